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
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/ControlledChaos/mediatheque/internal/common"
)

// busyTimeoutMillis gives writers time to wait out WAL checkpoint
// contention instead of failing immediately.
const busyTimeoutMillis = 30000

const schemaDDL = `
CREATE TABLE IF NOT EXISTS nodes (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	parent_id     TEXT,
	kind          TEXT NOT NULL,
	visibility    TEXT NOT NULL,
	display_name  TEXT NOT NULL,
	rel_path      TEXT NOT NULL,
	byte_size     INTEGER NOT NULL DEFAULT 0,
	content_type  TEXT,
	media_class   TEXT,
	version       INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL,
	attrs         TEXT
);
CREATE INDEX IF NOT EXISTS idx_nodes_owner_parent ON nodes(owner_id, parent_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_sibling_name ON nodes(owner_id, parent_id, display_name);

CREATE TABLE IF NOT EXISTS quotas (
	owner_id    TEXT PRIMARY KEY,
	used_bytes  INTEGER NOT NULL DEFAULT 0,
	updated_at  INTEGER NOT NULL
);
`

// BunStore is the SQLite-backed metadata store.
type BunStore struct {
	sqlDB *sql.DB
	db    *bun.DB
}

var _ Store = (*BunStore)(nil)

// Open opens (creating if needed) the metadata database at path.
func Open(path string) (*BunStore, error) {
	sqlDB, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if _, err := sqlDB.Exec(schemaDDL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &BunStore{
		sqlDB: sqlDB,
		db:    bun.NewDB(sqlDB, sqlitedialect.New()),
	}, nil
}

// execPragma runs a PRAGMA using Query (not Exec) because libsql returns
// rows for PRAGMA statements.
func execPragma(db *sql.DB, pragma string) error {
	rows, err := db.Query(pragma)
	if err != nil {
		return err
	}
	rows.Close()
	return nil
}

// applyPragmas sets essential PRAGMAs after opening a libsql connection.
// libsql ignores DSN-based _pragma=value parameters, so everything is set
// explicitly. busy_timeout goes first so journal_mode=WAL waits for locks
// instead of failing.
func applyPragmas(db *sql.DB) error {
	if err := execPragma(db, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis)); err != nil {
		return fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if err := execPragma(db, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}
	if err := execPragma(db, "PRAGMA synchronous=NORMAL"); err != nil {
		return fmt.Errorf("failed to set synchronous=NORMAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *BunStore) Close() error {
	return s.db.Close()
}

// --- Node operations ---

func (s *BunStore) CreateNode(ctx context.Context, n *Node) error {
	return withLockRetry(ctx, func() error {
		_, err := s.db.NewInsert().Model(NodeModelFromNode(n)).Exec(ctx)
		if err != nil && isUniqueViolation(err) {
			return common.ErrNameCollision
		}
		return err
	})
}

func (s *BunStore) GetNode(ctx context.Context, id string) (*Node, error) {
	var m NodeModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.ToNode(), nil
}

func (s *BunStore) UpdateNode(ctx context.Context, n *Node) error {
	return withLockRetry(ctx, func() error {
		m := NodeModelFromNode(n)
		res, err := s.db.NewUpdate().
			Model(m).
			Set("parent_id = ?", m.ParentID).
			Set("display_name = ?", m.DisplayName).
			Set("rel_path = ?", m.RelPath).
			Set("byte_size = ?", m.ByteSize).
			Set("content_type = ?", m.ContentType).
			Set("media_class = ?", m.MediaClass).
			Set("visibility = ?", m.Visibility).
			Set("attrs = ?", m.Attrs).
			Set("version = version + 1").
			Where("id = ?", m.ID).
			Where("version = ?", m.Version).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return common.ErrConflict
		}
		n.Version++
		return nil
	})
}

func (s *BunStore) DeleteNode(ctx context.Context, id string) error {
	return withLockRetry(ctx, func() error {
		_, err := s.db.NewDelete().Model((*NodeModel)(nil)).Where("id = ?", id).Exec(ctx)
		return err
	})
}

func (s *BunStore) ListChildren(ctx context.Context, ownerID, parentID string) ([]*Node, error) {
	var models []NodeModel
	q := s.db.NewSelect().Model(&models).Where("owner_id = ?", ownerID)
	if parentID == "" {
		q = q.Where("parent_id IS NULL OR parent_id = ''")
	} else {
		q = q.Where("parent_id = ?", parentID)
	}
	if err := q.Order("display_name").Scan(ctx); err != nil {
		return nil, err
	}
	nodes := make([]*Node, len(models))
	for i := range models {
		nodes[i] = models[i].ToNode()
	}
	return nodes, nil
}

func (s *BunStore) ChildByName(ctx context.Context, ownerID, parentID, name string) (*Node, error) {
	var m NodeModel
	q := s.db.NewSelect().Model(&m).
		Where("owner_id = ?", ownerID).
		Where("display_name = ?", name)
	if parentID == "" {
		q = q.Where("parent_id IS NULL OR parent_id = ''")
	} else {
		q = q.Where("parent_id = ?", parentID)
	}
	err := q.Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.ToNode(), nil
}

// MoveSubtree reparents the moved node and rewrites descendant paths in one
// transaction. The version guard makes concurrent moves of the same node
// lose cleanly with ErrConflict.
func (s *BunStore) MoveSubtree(ctx context.Context, movedID string, expectedVersion int64, newParentID string, updates []PathUpdate) error {
	return withLockRetry(ctx, func() error {
		return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			res, err := tx.NewUpdate().
				Model((*NodeModel)(nil)).
				Set("parent_id = ?", newParentID).
				Set("version = version + 1").
				Where("id = ?", movedID).
				Where("version = ?", expectedVersion).
				Exec(ctx)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected == 0 {
				return common.ErrConflict
			}
			for _, u := range updates {
				if _, err := tx.NewUpdate().
					Model((*NodeModel)(nil)).
					Set("rel_path = ?", u.RelPath).
					Where("id = ?", u.NodeID).
					Exec(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// --- Quota operations ---

func (s *BunStore) GetQuota(ctx context.Context, ownerID string) (*QuotaRecord, error) {
	var m QuotaModel
	err := s.db.NewSelect().Model(&m).Where("owner_id = ?", ownerID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return &QuotaRecord{OwnerID: ownerID}, nil
	}
	if err != nil {
		return nil, err
	}
	return m.ToQuotaRecord(), nil
}

func (s *BunStore) ApplyQuotaDelta(ctx context.Context, ownerID string, delta int64) (int64, bool, error) {
	type result struct {
		used    int64
		clamped bool
	}
	r, err := withLockRetryResult(ctx, func() (result, error) {
		var r result
		err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			now := time.Now().Unix()
			if _, err := tx.NewInsert().
				Model(&QuotaModel{OwnerID: ownerID, UsedBytes: 0, UpdatedAt: now}).
				On("CONFLICT (owner_id) DO NOTHING").
				Exec(ctx); err != nil {
				return err
			}
			var m QuotaModel
			if err := tx.NewSelect().Model(&m).Where("owner_id = ?", ownerID).Scan(ctx); err != nil {
				return err
			}
			next := m.UsedBytes + delta
			if next < 0 {
				next = 0
				r.clamped = true
			}
			r.used = next
			_, err := tx.NewUpdate().
				Model((*QuotaModel)(nil)).
				Set("used_bytes = ?", next).
				Set("updated_at = ?", now).
				Where("owner_id = ?", ownerID).
				Exec(ctx)
			return err
		})
		return r, err
	})
	return r.used, r.clamped, err
}

func (s *BunStore) SetQuotaUsed(ctx context.Context, ownerID string, used int64) error {
	return withLockRetry(ctx, func() error {
		_, err := s.db.NewInsert().
			Model(&QuotaModel{OwnerID: ownerID, UsedBytes: used, UpdatedAt: time.Now().Unix()}).
			On("CONFLICT (owner_id) DO UPDATE").
			Set("used_bytes = EXCLUDED.used_bytes").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
}

func (s *BunStore) DeleteOwner(ctx context.Context, ownerID string) error {
	return withLockRetry(ctx, func() error {
		return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if _, err := tx.NewDelete().Model((*NodeModel)(nil)).Where("owner_id = ?", ownerID).Exec(ctx); err != nil {
				return err
			}
			_, err := tx.NewDelete().Model((*QuotaModel)(nil)).Where("owner_id = ?", ownerID).Exec(ctx)
			return err
		})
	})
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
