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

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ControlledChaos/mediatheque/internal/common"
)

func newFolder(id, owner, parent, name string) *Node {
	return &Node{
		ID:          id,
		OwnerID:     owner,
		ParentID:    parent,
		Kind:        KindFolder,
		Visibility:  VisibilityPublic,
		DisplayName: name,
		CreatedAt:   time.Now(),
	}
}

func TestMemStoreNodeCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	n := newFolder("f1", "u1", "", "Documents")
	require.NoError(t, s.CreateNode(ctx, n))

	got, err := s.GetNode(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "Documents", got.DisplayName)
	assert.EqualValues(t, 1, got.Version)

	_, err = s.GetNode(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)

	got.DisplayName = "Docs"
	require.NoError(t, s.UpdateNode(ctx, got))
	assert.EqualValues(t, 2, got.Version)

	// stale write loses
	stale := newFolder("f1", "u1", "", "Old")
	stale.Version = 1
	assert.ErrorIs(t, s.UpdateNode(ctx, stale), common.ErrConflict)

	require.NoError(t, s.DeleteNode(ctx, "f1"))
	_, err = s.GetNode(ctx, "f1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemStoreSiblingCollision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.CreateNode(ctx, newFolder("a", "u1", "", "same")))
	assert.ErrorIs(t, s.CreateNode(ctx, newFolder("b", "u1", "", "same")), common.ErrNameCollision)

	// different parent is fine
	require.NoError(t, s.CreateNode(ctx, newFolder("c", "u1", "a", "same")))
	// different owner is fine
	require.NoError(t, s.CreateNode(ctx, newFolder("d", "u2", "", "same")))
}

func TestMemStoreListChildren(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.CreateNode(ctx, newFolder("p", "u1", "", "parent")))
	require.NoError(t, s.CreateNode(ctx, newFolder("c2", "u1", "p", "beta")))
	require.NoError(t, s.CreateNode(ctx, newFolder("c1", "u1", "p", "alpha")))

	children, err := s.ListChildren(ctx, "u1", "p")
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "alpha", children[0].DisplayName)
	assert.Equal(t, "beta", children[1].DisplayName)

	child, err := s.ChildByName(ctx, "u1", "p", "beta")
	require.NoError(t, err)
	assert.Equal(t, "c2", child.ID)
}

func TestMemStoreMoveSubtreeConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.CreateNode(ctx, newFolder("f", "u1", "", "F")))
	err := s.MoveSubtree(ctx, "f", 99, "", nil)
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestMemStoreMoveSubtreeFaultInjection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.CreateNode(ctx, newFolder("f", "u1", "", "F")))
	a := newFolder("a", "u1", "f", "A")
	a.RelPath = "public/u1/F/A"
	require.NoError(t, s.CreateNode(ctx, a))

	boom := errors.New("boom")
	s.FailAfterPathUpdates = 1
	s.InjectedErr = boom

	updates := []PathUpdate{
		{NodeID: "f", RelPath: "public/u1/G/F"},
		{NodeID: "a", RelPath: "public/u1/G/F/A"},
	}
	err := s.MoveSubtree(ctx, "f", 1, "g", updates)
	assert.ErrorIs(t, err, boom)

	// nothing committed
	f, err := s.GetNode(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, "", f.ParentID)
	assert.EqualValues(t, 1, f.Version)
	got, err := s.GetNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "public/u1/F/A", got.RelPath)
}

func TestMemStoreQuota(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	// lazily created at zero
	q, err := s.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, q.UsedBytes)

	used, clamped, err := s.ApplyQuotaDelta(ctx, "u1", 1000)
	require.NoError(t, err)
	assert.False(t, clamped)
	assert.EqualValues(t, 1000, used)

	used, clamped, err = s.ApplyQuotaDelta(ctx, "u1", -400)
	require.NoError(t, err)
	assert.False(t, clamped)
	assert.EqualValues(t, 600, used)

	// driving below zero clamps
	used, clamped, err = s.ApplyQuotaDelta(ctx, "u1", -5000)
	require.NoError(t, err)
	assert.True(t, clamped)
	assert.EqualValues(t, 0, used)

	require.NoError(t, s.SetQuotaUsed(ctx, "u1", 12345))
	q, err = s.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 12345, q.UsedBytes)
}

func TestMemStoreDeleteOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemStore()

	require.NoError(t, s.CreateNode(ctx, newFolder("f1", "u1", "", "a")))
	require.NoError(t, s.CreateNode(ctx, newFolder("f2", "u1", "f1", "b")))
	require.NoError(t, s.CreateNode(ctx, newFolder("g1", "u2", "", "c")))
	_, _, err := s.ApplyQuotaDelta(ctx, "u1", 10)
	require.NoError(t, err)

	require.NoError(t, s.DeleteOwner(ctx, "u1"))
	assert.Equal(t, 1, s.NodeCount())
	q, err := s.GetQuota(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, q.UsedBytes)
}
