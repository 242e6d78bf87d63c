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

package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"github.com/ControlledChaos/mediatheque/internal/ingest"
	"github.com/ControlledChaos/mediatheque/internal/pathres"
	"github.com/ControlledChaos/mediatheque/internal/quota"
	"github.com/ControlledChaos/mediatheque/internal/store"
	"github.com/ControlledChaos/mediatheque/internal/util"
)

// engine bundles the pieces maintenance commands operate on.
type engine struct {
	st       store.Store
	fs       billy.Filesystem
	ledger   *quota.Ledger
	pipeline *ingest.Pipeline
}

// openEngine opens the metadata store and the library filesystem from the
// loaded config. The caller must Close it.
func openEngine() (*engine, error) {
	if err := os.MkdirAll(cfg.StorageRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	lockDir := filepath.Join(cfg.StorageRoot, ".locks")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	fs := osfs.New(cfg.StorageRoot)
	locks := util.NewOwnerLocks(lockDir)
	ledger := quota.NewLedger(st)
	resolver := pathres.New(st, fs, locks)

	blocklist, err := ingest.LoadBlocklist(cfg.BlocklistFile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load blocklist: %w", err)
	}

	pipeline := ingest.NewPipeline(st, fs, resolver, ledger, locks, nil, nil, ingest.Options{
		QuotaBytes: cfg.QuotaBytes,
		Collision:  cfg.Collision,
		Blocklist:  blocklist,
	})
	return &engine{st: st, fs: fs, ledger: ledger, pipeline: pipeline}, nil
}

func (e *engine) Close() error {
	return e.st.Close()
}
