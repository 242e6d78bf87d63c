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
	"sort"
	"sync"
	"time"

	"github.com/ControlledChaos/mediatheque/internal/common"
)

// MemStore is a mutex-guarded in-memory Store. It backs unit tests and
// mirrors the transactional guarantees of the SQLite store.
type MemStore struct {
	mu     sync.Mutex
	nodes  map[string]*Node
	quotas map[string]*QuotaRecord

	// FailAfterPathUpdates, when >= 0, makes MoveSubtree fail after that
	// many descendant path rewrites. Fault injection for atomicity tests;
	// the store still rolls the whole transaction back.
	FailAfterPathUpdates int

	// injected error returned by the fault above
	InjectedErr error

	// FailCreateNode, when set, is returned by CreateNode before any write.
	FailCreateNode error

	// FailQuotaDelta, when set, is returned by ApplyQuotaDelta before any write.
	FailQuotaDelta error
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		nodes:                make(map[string]*Node),
		quotas:               make(map[string]*QuotaRecord),
		FailAfterPathUpdates: -1,
	}
}

func cloneNode(n *Node) *Node {
	c := *n
	if n.Attrs != nil {
		c.Attrs = make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			c.Attrs[k] = v
		}
	}
	return &c
}

func (s *MemStore) CreateNode(_ context.Context, n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreateNode != nil {
		return s.FailCreateNode
	}
	if _, ok := s.nodes[n.ID]; ok {
		return common.ErrExists
	}
	for _, existing := range s.nodes {
		if existing.OwnerID == n.OwnerID && existing.ParentID == n.ParentID && existing.DisplayName == n.DisplayName {
			return common.ErrNameCollision
		}
	}
	if n.Version == 0 {
		n.Version = 1
	}
	s.nodes[n.ID] = cloneNode(n)
	return nil
}

func (s *MemStore) GetNode(_ context.Context, id string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneNode(n), nil
}

func (s *MemStore) UpdateNode(_ context.Context, n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.nodes[n.ID]
	if !ok {
		return common.ErrNotFound
	}
	if stored.Version != n.Version {
		return common.ErrConflict
	}
	updated := cloneNode(n)
	updated.Version++
	s.nodes[n.ID] = updated
	n.Version = updated.Version
	return nil
}

func (s *MemStore) DeleteNode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	return nil
}

func (s *MemStore) ListChildren(_ context.Context, ownerID, parentID string) ([]*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Node
	for _, n := range s.nodes {
		if n.OwnerID == ownerID && n.ParentID == parentID {
			out = append(out, cloneNode(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

func (s *MemStore) ChildByName(_ context.Context, ownerID, parentID, name string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.OwnerID == ownerID && n.ParentID == parentID && n.DisplayName == name {
			return cloneNode(n), nil
		}
	}
	return nil, common.ErrNotFound
}

func (s *MemStore) MoveSubtree(_ context.Context, movedID string, expectedVersion int64, newParentID string, updates []PathUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved, ok := s.nodes[movedID]
	if !ok {
		return common.ErrNotFound
	}
	if moved.Version != expectedVersion {
		return common.ErrConflict
	}

	// apply on copies first so an injected failure leaves nothing changed
	staged := make(map[string]*Node, len(updates)+1)
	root := cloneNode(moved)
	root.ParentID = newParentID
	root.Version++
	staged[movedID] = root

	for i, u := range updates {
		if s.FailAfterPathUpdates >= 0 && i >= s.FailAfterPathUpdates {
			return s.InjectedErr
		}
		n, ok := s.nodes[u.NodeID]
		if !ok {
			return common.ErrNotFound
		}
		c, already := staged[u.NodeID]
		if !already {
			c = cloneNode(n)
			staged[u.NodeID] = c
		}
		c.RelPath = u.RelPath
	}

	for id, n := range staged {
		s.nodes[id] = n
	}
	return nil
}

func (s *MemStore) GetQuota(_ context.Context, ownerID string) (*QuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotas[ownerID]
	if !ok {
		return &QuotaRecord{OwnerID: ownerID}, nil
	}
	c := *q
	return &c, nil
}

func (s *MemStore) ApplyQuotaDelta(_ context.Context, ownerID string, delta int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailQuotaDelta != nil {
		return 0, false, s.FailQuotaDelta
	}
	q, ok := s.quotas[ownerID]
	if !ok {
		q = &QuotaRecord{OwnerID: ownerID}
		s.quotas[ownerID] = q
	}
	clamped := false
	q.UsedBytes += delta
	if q.UsedBytes < 0 {
		q.UsedBytes = 0
		clamped = true
	}
	q.UpdatedAt = time.Now()
	return q.UsedBytes, clamped, nil
}

func (s *MemStore) SetQuotaUsed(_ context.Context, ownerID string, used int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotas[ownerID] = &QuotaRecord{OwnerID: ownerID, UsedBytes: used, UpdatedAt: time.Now()}
	return nil
}

func (s *MemStore) DeleteOwner(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range s.nodes {
		if n.OwnerID == ownerID {
			delete(s.nodes, id)
		}
	}
	delete(s.quotas, ownerID)
	return nil
}

// NodeCount reports the number of stored nodes. Test helper.
func (s *MemStore) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

func (s *MemStore) Close() error { return nil }
