// Copyright 2024 Mediatheque Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package quota

import (
	"context"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ControlledChaos/mediatheque/internal/store"
)

func TestChargeSequenceSumsExactly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLedger(store.NewMemStore())

	deltas := []int64{100, 250, -50, 1_000_000, -300}
	var want int64
	for _, d := range deltas {
		_, err := l.Charge(ctx, "u1", d)
		require.NoError(t, err)
		want += d
	}

	got, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestChargeClampsAtZero(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLedger(store.NewMemStore())

	_, err := l.Charge(ctx, "u1", 100)
	require.NoError(t, err)
	used, err := l.Charge(ctx, "u1", -10_000)
	require.NoError(t, err, "clamp is degraded mode, not an error")
	assert.EqualValues(t, 0, used)
}

func TestConcurrentChargesLinearize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLedger(store.NewMemStore())

	const workers = 16
	const perWorker = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := l.Charge(ctx, "u1", 10); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, workers*perWorker*10, got)
}

func TestWouldExceed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLedger(store.NewMemStore())

	_, err := l.Charge(ctx, "u1", 900)
	require.NoError(t, err)

	over, err := l.WouldExceed(ctx, "u1", 200, 1000)
	require.NoError(t, err)
	assert.True(t, over)

	over, err = l.WouldExceed(ctx, "u1", 100, 1000)
	require.NoError(t, err)
	assert.False(t, over, "exactly at the cap is allowed")

	over, err = l.WouldExceed(ctx, "u1", 1<<40, 0)
	require.NoError(t, err)
	assert.False(t, over, "zero limit means uncapped")
}

func TestReconcileRepairsDrift(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemStore()
	l := NewLedger(st)
	fs := memfs.New()

	require.NoError(t, util.WriteFile(fs, "public/u1/a.bin", make([]byte, 1000), 0o644))
	require.NoError(t, util.WriteFile(fs, "public/u1/sub/b.bin", make([]byte, 500), 0o644))
	require.NoError(t, util.WriteFile(fs, "private/u1/c.bin", make([]byte, 250), 0o644))
	require.NoError(t, util.WriteFile(fs, "public/u2/other.bin", make([]byte, 9999), 0o644))

	// ledger drifted
	_, err := l.Charge(ctx, "u1", 4000)
	require.NoError(t, err)

	drift, err := l.Reconcile(ctx, fs, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 4000, drift.LedgerBytes)
	assert.EqualValues(t, 1750, drift.ActualBytes)
	assert.EqualValues(t, 2250, drift.Delta())

	got, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1750, got)
}

func TestReconcileMissingOwnerTree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := NewLedger(store.NewMemStore())

	drift, err := l.Reconcile(ctx, memfs.New(), "ghost")
	require.NoError(t, err)
	assert.EqualValues(t, 0, drift.ActualBytes)
}
