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

// Package quota maintains the per-owner ledger of bytes consumed. The
// ledger accounts; it never authorizes. Policy checks against a cap belong
// to the caller, via WouldExceed.
package quota

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ControlledChaos/mediatheque/internal/store"
)

// Ledger applies signed byte deltas to per-owner quota records. Charges for
// the same owner serialize; different owners proceed fully in parallel.
type Ledger struct {
	st store.Store

	mu     sync.Mutex
	owners map[string]*sync.Mutex
}

// NewLedger creates a ledger over the given store.
func NewLedger(st store.Store) *Ledger {
	return &Ledger{
		st:     st,
		owners: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) ownerMutex(ownerID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.owners[ownerID]
	if !ok {
		m = &sync.Mutex{}
		l.owners[ownerID] = m
	}
	return m
}

// Charge applies delta to the owner's used bytes. A delta that would drive
// the total negative clamps to zero; that is a recoverable inconsistency
// (the ledger mirrors physical reality and reconciliation repairs drift),
// so it is logged at Warn rather than surfaced as an error.
func (l *Ledger) Charge(ctx context.Context, ownerID string, delta int64) (int64, error) {
	m := l.ownerMutex(ownerID)
	m.Lock()
	defer m.Unlock()

	used, clamped, err := l.st.ApplyQuotaDelta(ctx, ownerID, delta)
	if err != nil {
		return 0, err
	}
	if clamped {
		log.WithFields(log.Fields{
			"owner": ownerID,
			"delta": delta,
		}).Warn("quota delta would go negative; clamped to zero pending reconciliation")
	}
	log.WithFields(log.Fields{
		"owner": ownerID,
		"delta": delta,
		"used":  used,
	}).Debug("quota charged")
	return used, nil
}

// Peek returns the owner's current used bytes.
func (l *Ledger) Peek(ctx context.Context, ownerID string) (int64, error) {
	rec, err := l.st.GetQuota(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return rec.UsedBytes, nil
}

// WouldExceed reports whether adding additional bytes would push the owner
// past limit. A non-positive limit means uncapped.
func (l *Ledger) WouldExceed(ctx context.Context, ownerID string, additional, limit int64) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	used, err := l.Peek(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return used+additional > limit, nil
}
