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

// Package ingest commits uploads into the hierarchy. Each upload runs the
// state machine Received → Validated → Staged → Committed; any failure
// before Committed unwinds completely: staged bytes removed, no node
// record, no quota charged.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	billyutil "github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ControlledChaos/mediatheque/internal/common"
	"github.com/ControlledChaos/mediatheque/internal/config"
	"github.com/ControlledChaos/mediatheque/internal/mediatype"
	"github.com/ControlledChaos/mediatheque/internal/pathres"
	"github.com/ControlledChaos/mediatheque/internal/quota"
	"github.com/ControlledChaos/mediatheque/internal/store"
	"github.com/ControlledChaos/mediatheque/internal/thumb"
	"github.com/ControlledChaos/mediatheque/internal/util"
)

// StagingDir holds in-flight uploads, outside the visible hierarchy.
// Orphans left by abandoned uploads are collected by SweepStaging.
const StagingDir = ".staging"

// AuthorizeFunc is the authorization collaborator: it decides whether the
// caller may create under the target parent. It runs before any core
// logic; the pipeline trusts an allow and performs no checks of its own.
type AuthorizeFunc func(ctx context.Context, caller, ownerID, parentID string) error

// Options are the ingestion policy knobs.
type Options struct {
	// QuotaBytes caps per-owner storage; 0 disables the cap.
	QuotaBytes int64
	// Collision selects the name-clash policy; default reject.
	Collision config.CollisionPolicy
	// Allow restricts accepted media classes; empty allows all.
	Allow mediatype.AllowList
	// Blocklist rejects filenames by pattern; nil blocks nothing.
	Blocklist *Blocklist
}

// Upload is one inbound ingestion request.
type Upload struct {
	Caller       string
	OwnerID      string
	ParentID     string // "" targets the hierarchy root
	Visibility   store.Visibility
	Filename     string
	Body         io.Reader
	DeclaredSize int64
	// ContentHash, when set, is the hex SHA-256 the staged bytes must match.
	ContentHash string
}

// Pipeline ingests uploads into the hierarchy.
type Pipeline struct {
	st        store.Store
	fs        billy.Filesystem
	resolver  *pathres.Resolver
	ledger    *quota.Ledger
	locks     *util.OwnerLocks
	thumbs    *thumb.Worker
	authorize AuthorizeFunc
	opts      Options
}

// NewPipeline wires an ingestion pipeline. thumbs may be nil to disable
// derivative generation; authorize may be nil when an outer layer already
// gates every call.
func NewPipeline(st store.Store, fs billy.Filesystem, resolver *pathres.Resolver, ledger *quota.Ledger, locks *util.OwnerLocks, thumbs *thumb.Worker, authorize AuthorizeFunc, opts Options) *Pipeline {
	if opts.Collision == "" {
		opts.Collision = config.CollisionReject
	}
	return &Pipeline{
		st:        st,
		fs:        fs,
		resolver:  resolver,
		ledger:    ledger,
		locks:     locks,
		thumbs:    thumbs,
		authorize: authorize,
		opts:      opts,
	}
}

// Ingest runs the upload state machine and returns the committed node.
// The context may cancel the upload at any point before commit.
func (p *Pipeline) Ingest(ctx context.Context, up Upload) (*store.Node, error) {
	if p.authorize != nil {
		if err := p.authorize(ctx, up.Caller, up.OwnerID, up.ParentID); err != nil {
			return nil, err
		}
	}

	// Received
	if up.Body == nil {
		return nil, common.ErrEmptyUpload
	}
	if strings.TrimSpace(up.Filename) == "" {
		return nil, fmt.Errorf("%w: filename is empty", common.ErrInvalidName)
	}
	if p.opts.Blocklist.Blocked(up.Filename) {
		return nil, fmt.Errorf("%w: filename %q is blocked by policy", common.ErrClassification, up.Filename)
	}

	// Validated: quota policy on the declared size. The commit charge uses
	// the actually written count; this pre-check just fails fast.
	over, err := p.ledger.WouldExceed(ctx, up.OwnerID, up.DeclaredSize, p.opts.QuotaBytes)
	if err != nil {
		return nil, err
	}
	if over {
		return nil, common.ErrQuotaExceeded
	}
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	// Staged
	stagePath, written, digest, err := p.stage(up.Body)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if rmErr := p.fs.Remove(stagePath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.WithError(rmErr).WithField("path", stagePath).Warn("could not remove staged upload")
			}
		}
	}()

	if written == 0 {
		return nil, common.ErrEmptyUpload
	}
	if up.ContentHash != "" && !strings.EqualFold(up.ContentHash, digest) {
		return nil, fmt.Errorf("%w: declared %s, staged %s", common.ErrIntegrity, up.ContentHash, digest)
	}
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	contentType, class, err := p.classifyStaged(stagePath, up.Filename)
	if err != nil {
		return nil, err
	}
	if !p.opts.Allow.Allows(class) {
		return nil, fmt.Errorf("%w: class %s not allowed", common.ErrClassification, class)
	}

	// Committed
	node, err := p.commit(ctx, up, stagePath, written, contentType, class)
	if err != nil {
		return nil, err
	}
	committed = true

	if class == mediatype.ClassImage && p.thumbs != nil {
		p.thumbs.Enqueue(thumb.Job{RelPath: node.RelPath})
	}

	log.WithFields(log.Fields{
		"owner": node.OwnerID,
		"node":  node.ID,
		"path":  node.RelPath,
		"bytes": node.ByteSize,
		"class": node.MediaClass,
	}).Info("upload committed")
	return node, nil
}

// stage writes the body to a temporary location and returns its path, the
// byte count actually written, and the hex SHA-256 of those bytes.
func (p *Pipeline) stage(body io.Reader) (string, int64, string, error) {
	if err := p.fs.MkdirAll(StagingDir, 0o700); err != nil {
		return "", 0, "", fmt.Errorf("%w: create staging dir: %v", common.ErrPhysical, err)
	}
	stagePath := path.Join(StagingDir, uuid.NewString())
	f, err := p.fs.OpenFile(stagePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", 0, "", fmt.Errorf("%w: create staging file: %v", common.ErrPhysical, err)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = p.fs.Remove(stagePath)
		return "", 0, "", fmt.Errorf("%w: stage upload: %v", common.ErrPhysical, err)
	}
	return stagePath, written, hex.EncodeToString(hasher.Sum(nil)), nil
}

// classifyStaged sniffs the staged bytes and resolves the media class.
func (p *Pipeline) classifyStaged(stagePath, filename string) (string, mediatype.Class, error) {
	f, err := p.fs.Open(stagePath)
	if err != nil {
		return "", "", fmt.Errorf("%w: reopen staged upload: %v", common.ErrPhysical, err)
	}
	defer f.Close()

	contentType, _, err := mediatype.Sniff(f)
	if err != nil {
		return "", "", fmt.Errorf("%w: sniff staged upload: %v", common.ErrPhysical, err)
	}
	class, _ := mediatype.Classify(filename, contentType)
	return contentType, class, nil
}

// commit moves the staged bytes into the hierarchy, creates the node
// record, and charges the quota — all under the owner lock, unwinding
// completely on any failure.
func (p *Pipeline) commit(ctx context.Context, up Upload, stagePath string, written int64, contentType string, class mediatype.Class) (*store.Node, error) {
	unlock, err := p.locks.Lock(up.OwnerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	var parent *store.Node
	if up.ParentID != "" {
		parent, err = p.st.GetNode(ctx, up.ParentID)
		if err != nil {
			return nil, fmt.Errorf("destination parent: %w", err)
		}
		if parent.OwnerID != up.OwnerID {
			return nil, fmt.Errorf("destination parent: %w", common.ErrNotFound)
		}
		if !parent.IsFolder() {
			return nil, common.ErrNotFolder
		}
	}

	name, err := p.pickName(ctx, up.OwnerID, up.ParentID, common.SanitizeSegment(up.Filename))
	if err != nil {
		return nil, err
	}

	// A non-root upload lives on its parent's branch regardless of what
	// the caller asked for; the visibility attribute must agree with the
	// physical path.
	visibility := up.Visibility
	if parent != nil {
		visibility = parent.Visibility
	}

	var destPrefix string
	if parent == nil {
		destPrefix = pathres.RootPath(visibility, up.OwnerID)
		if err := p.resolver.EnsureRoot(visibility, up.OwnerID); err != nil {
			return nil, err
		}
	} else {
		destPrefix, err = p.resolver.Resolve(ctx, parent)
		if err != nil {
			return nil, err
		}
		if err := p.fs.MkdirAll(destPrefix, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create destination folder: %v", common.ErrPhysical, err)
		}
	}
	destPath := common.JoinPath(destPrefix, name)

	if err := p.fs.Rename(stagePath, destPath); err != nil {
		return nil, fmt.Errorf("%w: move staged upload into place: %v", common.ErrPhysical, err)
	}

	node := &store.Node{
		ID:          uuid.NewString(),
		OwnerID:     up.OwnerID,
		ParentID:    up.ParentID,
		Kind:        store.KindFile,
		Visibility:  visibility,
		DisplayName: name,
		RelPath:     destPath,
		ByteSize:    written,
		ContentType: contentType,
		MediaClass:  class,
		Version:     1,
		CreatedAt:   time.Now(),
	}
	if err := p.st.CreateNode(ctx, node); err != nil {
		p.undoPlacement(destPath, stagePath)
		return nil, err
	}

	if _, err := p.ledger.Charge(ctx, up.OwnerID, written); err != nil {
		if delErr := p.st.DeleteNode(ctx, node.ID); delErr != nil {
			log.WithError(delErr).WithField("node", node.ID).Warn("could not undo node record after quota failure")
		}
		p.undoPlacement(destPath, stagePath)
		return nil, fmt.Errorf("charge quota: %w", err)
	}
	return node, nil
}

// undoPlacement moves a placed file back to staging so the deferred
// cleanup removes it; falling back to direct removal.
func (p *Pipeline) undoPlacement(destPath, stagePath string) {
	if err := p.fs.Rename(destPath, stagePath); err != nil {
		if rmErr := p.fs.Remove(destPath); rmErr != nil {
			log.WithError(rmErr).WithField("path", destPath).Warn("could not undo file placement")
		}
	}
}

// pickName applies the collision policy at the destination.
func (p *Pipeline) pickName(ctx context.Context, ownerID, parentID, name string) (string, error) {
	if _, err := p.st.ChildByName(ctx, ownerID, parentID, name); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return name, nil
		}
		return "", err
	}
	if p.opts.Collision == config.CollisionReject {
		return "", common.ErrNameCollision
	}

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; n <= 100; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, err := p.st.ChildByName(ctx, ownerID, parentID, candidate); err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return candidate, nil
			}
			return "", err
		}
	}
	return "", common.ErrNameCollision
}

// CreateFolder adds a folder node under parentID ("" for the root).
func (p *Pipeline) CreateFolder(ctx context.Context, caller, ownerID, parentID string, visibility store.Visibility, name string) (*store.Node, error) {
	if p.authorize != nil {
		if err := p.authorize(ctx, caller, ownerID, parentID); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: folder name is empty", common.ErrInvalidName)
	}

	unlock, err := p.locks.Lock(ownerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if parentID != "" {
		parent, err := p.st.GetNode(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("destination parent: %w", err)
		}
		if parent.OwnerID != ownerID {
			return nil, fmt.Errorf("destination parent: %w", common.ErrNotFound)
		}
		if !parent.IsFolder() {
			return nil, common.ErrNotFolder
		}
		// subfolders stay on their parent's branch
		visibility = parent.Visibility
	}

	name = common.SanitizeSegment(name)
	if _, err := p.st.ChildByName(ctx, ownerID, parentID, name); err == nil {
		return nil, common.ErrNameCollision
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	node := &store.Node{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		ParentID:    parentID,
		Kind:        store.KindFolder,
		Visibility:  visibility,
		DisplayName: name,
		Version:     1,
		CreatedAt:   time.Now(),
	}
	relPath, err := p.resolver.Resolve(ctx, node)
	if err != nil {
		return nil, err
	}
	node.RelPath = relPath

	if err := p.fs.MkdirAll(relPath, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create folder: %v", common.ErrPhysical, err)
	}
	if err := p.st.CreateNode(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// Remove deletes a node (and, for folders, its whole subtree) from disk
// and metadata, refunding the owner's quota for every removed file byte.
// This is the explicit undo for committed uploads.
func (p *Pipeline) Remove(ctx context.Context, caller string, node *store.Node) error {
	if p.authorize != nil {
		if err := p.authorize(ctx, caller, node.OwnerID, node.ID); err != nil {
			return err
		}
	}

	unlock, err := p.locks.Lock(node.OwnerID)
	if err != nil {
		return err
	}
	defer unlock()

	relPath, err := p.resolver.Resolve(ctx, node)
	if err != nil {
		return err
	}

	var freed int64
	var ids []string
	if err := p.collectSubtree(ctx, node, &freed, &ids); err != nil {
		return err
	}

	if err := billyutil.RemoveAll(p.fs, relPath); err != nil {
		return fmt.Errorf("%w: remove %s: %v", common.ErrPhysical, relPath, err)
	}
	for _, id := range ids {
		if err := p.st.DeleteNode(ctx, id); err != nil {
			return err
		}
		p.resolver.Invalidate(id)
	}
	if freed > 0 {
		if _, err := p.ledger.Charge(ctx, node.OwnerID, -freed); err != nil {
			log.WithError(err).WithField("owner", node.OwnerID).
				Warn("quota refund failed; reconciliation will repair")
		}
	}
	return nil
}

// PurgeOwner removes every node, physical byte, and the quota record of an
// owner. Used when a user account is deleted.
func (p *Pipeline) PurgeOwner(ctx context.Context, ownerID string) error {
	unlock, err := p.locks.Lock(ownerID)
	if err != nil {
		return err
	}
	defer unlock()

	for _, vis := range []store.Visibility{store.VisibilityPublic, store.VisibilityPrivate} {
		root := pathres.RootPath(vis, ownerID)
		if err := billyutil.RemoveAll(p.fs, root); err != nil {
			return fmt.Errorf("%w: purge %s: %v", common.ErrPhysical, root, err)
		}
	}
	return p.st.DeleteOwner(ctx, ownerID)
}

func (p *Pipeline) collectSubtree(ctx context.Context, node *store.Node, freed *int64, ids *[]string) error {
	*ids = append(*ids, node.ID)
	if !node.IsFolder() {
		*freed += node.ByteSize
		return nil
	}
	children, err := p.st.ListChildren(ctx, node.OwnerID, node.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := p.collectSubtree(ctx, child, freed, ids); err != nil {
			return err
		}
	}
	return nil
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrCancelled, err)
	}
	return nil
}
