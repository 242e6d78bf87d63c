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
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	"github.com/ControlledChaos/mediatheque/internal/mediatype"
)

// Bun ORM models for the mediatheque metadata tables.

// NodeModel represents the nodes table.
type NodeModel struct {
	bun.BaseModel `bun:"table:nodes"`

	ID          string `bun:"id,pk"`
	OwnerID     string `bun:"owner_id,notnull"`
	ParentID    string `bun:"parent_id,nullzero"`
	Kind        string `bun:"kind,notnull"`
	Visibility  string `bun:"visibility,notnull"`
	DisplayName string `bun:"display_name,notnull"`
	RelPath     string `bun:"rel_path,notnull"`
	ByteSize    int64  `bun:"byte_size,notnull"`
	ContentType string `bun:"content_type"`
	MediaClass  string `bun:"media_class"`
	Version     int64  `bun:"version,notnull"`
	CreatedAt   int64  `bun:"created_at,notnull"` // Unix timestamp
	Attrs       string `bun:"attrs"`              // JSON object, "" when empty
}

// ToNode converts a NodeModel to a Node.
func (m *NodeModel) ToNode() *Node {
	n := &Node{
		ID:          m.ID,
		OwnerID:     m.OwnerID,
		ParentID:    m.ParentID,
		Kind:        Kind(m.Kind),
		Visibility:  Visibility(m.Visibility),
		DisplayName: m.DisplayName,
		RelPath:     m.RelPath,
		ByteSize:    m.ByteSize,
		ContentType: m.ContentType,
		MediaClass:  mediatype.Class(m.MediaClass),
		Version:     m.Version,
		CreatedAt:   time.Unix(m.CreatedAt, 0),
	}
	if m.Attrs != "" {
		// a malformed attrs blob degrades to no attrs rather than failing reads
		_ = json.Unmarshal([]byte(m.Attrs), &n.Attrs)
	}
	return n
}

// NodeModelFromNode converts a Node to a NodeModel.
func NodeModelFromNode(n *Node) *NodeModel {
	m := &NodeModel{
		ID:          n.ID,
		OwnerID:     n.OwnerID,
		ParentID:    n.ParentID,
		Kind:        string(n.Kind),
		Visibility:  string(n.Visibility),
		DisplayName: n.DisplayName,
		RelPath:     n.RelPath,
		ByteSize:    n.ByteSize,
		ContentType: n.ContentType,
		MediaClass:  string(n.MediaClass),
		Version:     n.Version,
		CreatedAt:   n.CreatedAt.Unix(),
	}
	if len(n.Attrs) > 0 {
		if raw, err := json.Marshal(n.Attrs); err == nil {
			m.Attrs = string(raw)
		}
	}
	return m
}

// QuotaModel represents the quotas table.
type QuotaModel struct {
	bun.BaseModel `bun:"table:quotas"`

	OwnerID   string `bun:"owner_id,pk"`
	UsedBytes int64  `bun:"used_bytes,notnull"`
	UpdatedAt int64  `bun:"updated_at,notnull"` // Unix timestamp
}

// ToQuotaRecord converts a QuotaModel to a QuotaRecord.
func (m *QuotaModel) ToQuotaRecord() *QuotaRecord {
	return &QuotaRecord{
		OwnerID:   m.OwnerID,
		UsedBytes: m.UsedBytes,
		UpdatedAt: time.Unix(m.UpdatedAt, 0),
	}
}
