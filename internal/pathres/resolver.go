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

// Package pathres computes on-disk locations for hierarchy nodes and keeps
// them consistent across subtree moves. A move is a two-phase protocol:
// the physical relocation happens first as one all-or-nothing step, and only
// after it succeeds are the cached paths rewritten in the metadata store.
package pathres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5"

	"github.com/ControlledChaos/mediatheque/internal/common"
	"github.com/ControlledChaos/mediatheque/internal/store"
	"github.com/ControlledChaos/mediatheque/internal/util"
)

// maxDepth bounds ancestor chain walks. A chain deeper than this is a
// corrupt tree, treated the same as a cycle.
const maxDepth = 128

// resolveCacheTTL keeps resolved paths hot across the bursts of resolve
// calls an ingestion or listing produces, while staying short enough that
// a crashed writer cannot leave readers stale for long.
const resolveCacheTTL = 30 * time.Second

const resolveCacheMaxEntries = 10000

// Resolver computes relative physical paths for nodes and performs moves.
type Resolver struct {
	st    store.Store
	fs    billy.Filesystem
	locks *util.OwnerLocks
	mv    mover
	cache *pathCache
}

// New creates a Resolver over the given metadata store and physical
// filesystem root.
func New(st store.Store, fs billy.Filesystem, locks *util.OwnerLocks) *Resolver {
	return &Resolver{
		st:    st,
		fs:    fs,
		locks: locks,
		mv:    mover{fs: fs},
		cache: newPathCache(resolveCacheTTL, resolveCacheMaxEntries),
	}
}

// RootPath returns the deterministic physical root for a visibility and
// owner pair. Never stored, always derived.
func RootPath(visibility store.Visibility, ownerID string) string {
	return common.JoinPath(string(visibility), ownerID)
}

// Resolve computes the relative physical path of a node from its ancestor
// chain: the visibility branch of the chain's top node, the owner id, then
// one sanitized display-name segment per level.
func (r *Resolver) Resolve(ctx context.Context, node *store.Node) (string, error) {
	if p, ok := r.cache.get(node.ID); ok {
		return p, nil
	}

	segments := []string{common.SanitizeSegment(node.DisplayName)}
	top := node
	seen := map[string]bool{node.ID: true}

	current := node
	for current.ParentID != "" {
		if len(segments) > maxDepth {
			return "", fmt.Errorf("%w: ancestor chain exceeds depth %d", common.ErrCycle, maxDepth)
		}
		parent, err := r.st.GetNode(ctx, current.ParentID)
		if err != nil {
			return "", fmt.Errorf("resolve %s: parent %s: %w", node.ID, current.ParentID, err)
		}
		if seen[parent.ID] {
			return "", fmt.Errorf("%w: node %s", common.ErrCycle, parent.ID)
		}
		seen[parent.ID] = true
		segments = append([]string{common.SanitizeSegment(parent.DisplayName)}, segments...)
		top = parent
		current = parent
	}

	p := common.JoinPath(append(common.SplitPath(RootPath(top.Visibility, node.OwnerID)), segments...)...)
	r.cache.set(node.ID, p)
	return p, nil
}

// Move reparents node under newParent (nil means the hierarchy root),
// relocating the physical subtree and rewriting every affected cached path.
// Returns the node's new relative path.
func (r *Resolver) Move(ctx context.Context, node *store.Node, newParent *store.Node) (string, error) {
	if newParent != nil {
		if newParent.OwnerID != node.OwnerID {
			return "", fmt.Errorf("%w: destination belongs to another owner", common.ErrNotFound)
		}
		if !newParent.IsFolder() {
			return "", common.ErrNotFolder
		}
		if err := r.checkCycle(ctx, node, newParent); err != nil {
			return "", err
		}
	}

	newParentID := ""
	if newParent != nil {
		newParentID = newParent.ID
	}
	if sibling, err := r.st.ChildByName(ctx, node.OwnerID, newParentID, node.DisplayName); err == nil && sibling.ID != node.ID {
		return "", common.ErrNameCollision
	}

	unlock, err := r.locks.Lock(node.OwnerID)
	if err != nil {
		return "", err
	}
	defer unlock()

	// Reject a stale caller before touching the disk; the version guard in
	// the store would catch it later, but by then the physical relocation
	// would need undoing.
	current, err := r.st.GetNode(ctx, node.ID)
	if err != nil {
		return "", err
	}
	if current.Version != node.Version {
		return "", common.ErrConflict
	}

	oldPath, err := r.Resolve(ctx, node)
	if err != nil {
		return "", err
	}

	var destPrefix string
	if newParent == nil {
		destPrefix = RootPath(node.Visibility, node.OwnerID)
	} else {
		destPrefix, err = r.Resolve(ctx, newParent)
		if err != nil {
			return "", err
		}
	}
	newPath := common.JoinPath(destPrefix, common.SanitizeSegment(node.DisplayName))
	if newPath == oldPath {
		return newPath, nil
	}

	updates, err := r.subtreeUpdates(ctx, node, newPath)
	if err != nil {
		return "", err
	}

	// Phase one: physical relocation, all-or-nothing.
	if err := r.mv.relocate(oldPath, newPath); err != nil {
		return "", err
	}

	// Phase two: metadata rewrite. If the store rejects the move, the
	// physical relocation is undone so path layer and disk stay agreed.
	if err := r.st.MoveSubtree(ctx, node.ID, node.Version, newParentID, updates); err != nil {
		if rbErr := r.mv.relocate(newPath, oldPath); rbErr != nil {
			return "", fmt.Errorf("metadata move failed (%w) and physical rollback failed: %v", err, rbErr)
		}
		return "", err
	}

	r.cache.invalidatePrefix(oldPath)
	r.cache.invalidateNode(node.ID)
	node.ParentID = newParentID
	node.RelPath = newPath
	node.Version++
	return newPath, nil
}

// checkCycle rejects a move that would make node its own ancestor.
func (r *Resolver) checkCycle(ctx context.Context, node, newParent *store.Node) error {
	if newParent.ID == node.ID {
		return common.ErrCycle
	}
	current := newParent
	for depth := 0; current.ParentID != ""; depth++ {
		if depth > maxDepth {
			return fmt.Errorf("%w: ancestor chain exceeds depth %d", common.ErrCycle, maxDepth)
		}
		if current.ParentID == node.ID {
			return common.ErrCycle
		}
		parent, err := r.st.GetNode(ctx, current.ParentID)
		if err != nil {
			return err
		}
		current = parent
	}
	return nil
}

// subtreeUpdates walks the subtree rooted at node breadth-first and
// computes the fresh path of every member under the new prefix.
func (r *Resolver) subtreeUpdates(ctx context.Context, node *store.Node, newRootPath string) ([]store.PathUpdate, error) {
	updates := []store.PathUpdate{{NodeID: node.ID, RelPath: newRootPath}}

	type frame struct {
		id   string
		path string
	}
	queue := []frame{{id: node.ID, path: newRootPath}}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		children, err := r.st.ListChildren(ctx, node.OwnerID, f.id)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			childPath := common.JoinPath(f.path, common.SanitizeSegment(child.DisplayName))
			updates = append(updates, store.PathUpdate{NodeID: child.ID, RelPath: childPath})
			if child.IsFolder() {
				queue = append(queue, frame{id: child.ID, path: childPath})
			}
		}
	}
	return updates, nil
}

// EnsureRoot creates the physical directory for a visibility and owner
// pair if it does not exist yet.
func (r *Resolver) EnsureRoot(visibility store.Visibility, ownerID string) error {
	if err := r.fs.MkdirAll(RootPath(visibility, ownerID), 0o755); err != nil {
		return fmt.Errorf("%w: create owner root: %v", common.ErrPhysical, err)
	}
	return nil
}

// Invalidate drops any cached path for the node. Callers that rename or
// delete a node must call this.
func (r *Resolver) Invalidate(nodeID string) {
	r.cache.invalidateNode(nodeID)
}
