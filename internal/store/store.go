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

// Package store defines the metadata store boundary: persisted node records,
// per-owner quota records, and the operations the engine needs from any
// backend. The SQLite-backed implementation lives in this package; a
// mutex-guarded in-memory implementation backs the unit tests.
package store

import (
	"context"
	"time"

	"github.com/ControlledChaos/mediatheque/internal/mediatype"
)

// Kind distinguishes files from folders.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Visibility selects the physical root branch a node's path lives under.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Node is a file or folder entry in a user's hierarchy.
//
// ParentID is empty for nodes at the owner's hierarchy root. RelPath is the
// cached path from the visibility/owner root to the node; the path resolver
// is its sole writer. Version backs optimistic concurrency: every update
// must present the version it read, and the store rejects stale writes.
type Node struct {
	ID          string
	OwnerID     string
	ParentID    string
	Kind        Kind
	Visibility  Visibility
	DisplayName string
	RelPath     string
	ByteSize    int64
	ContentType string
	MediaClass  mediatype.Class
	Version     int64
	CreatedAt   time.Time

	// Attrs carries untyped pass-through data for external collaborators.
	// The engine never interprets it.
	Attrs map[string]string
}

// IsFolder reports whether the node can have children.
func (n *Node) IsFolder() bool { return n.Kind == KindFolder }

// QuotaRecord tracks bytes consumed by one owner. Created lazily on first
// charge; mutated only through signed deltas except during reconciliation.
type QuotaRecord struct {
	OwnerID   string
	UsedBytes int64
	UpdatedAt time.Time
}

// PathUpdate is one cached-path rewrite inside a subtree move.
type PathUpdate struct {
	NodeID  string
	RelPath string
}

// Store is the metadata store boundary.
//
// Implementations must make ApplyQuotaDelta an atomic read-modify-write and
// MoveSubtree a single transaction, per the isolation guarantees the engine
// relies on.
type Store interface {
	CreateNode(ctx context.Context, n *Node) error
	GetNode(ctx context.Context, id string) (*Node, error)
	// UpdateNode persists n if its Version matches the stored one, then
	// increments the version. Returns common.ErrConflict on a stale write.
	UpdateNode(ctx context.Context, n *Node) error
	DeleteNode(ctx context.Context, id string) error
	ListChildren(ctx context.Context, ownerID, parentID string) ([]*Node, error)
	// ChildByName returns the child of parentID with the given display
	// name, or common.ErrNotFound.
	ChildByName(ctx context.Context, ownerID, parentID, name string) (*Node, error)

	// MoveSubtree atomically reparents the moved node and rewrites the
	// cached paths of every affected descendant. expectedVersion guards
	// against a concurrent move of the same node (common.ErrConflict).
	MoveSubtree(ctx context.Context, movedID string, expectedVersion int64, newParentID string, updates []PathUpdate) error

	// GetQuota returns the owner's quota record, or a zero-valued record
	// if none exists yet.
	GetQuota(ctx context.Context, ownerID string) (*QuotaRecord, error)
	// ApplyQuotaDelta atomically adds delta to the owner's used bytes,
	// creating the record at zero first if needed. A delta that would
	// drive the total negative clamps to zero; clamped reports that.
	ApplyQuotaDelta(ctx context.Context, ownerID string, delta int64) (newUsed int64, clamped bool, err error)
	// SetQuotaUsed overwrites the owner's used bytes. Reconciliation only.
	SetQuotaUsed(ctx context.Context, ownerID string, used int64) error

	// DeleteOwner removes every node and the quota record for an owner.
	DeleteOwner(ctx context.Context, ownerID string) error

	Close() error
}
