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
	"time"

	"github.com/spf13/cobra"
)

var sweepTTL time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove orphaned staging files",
	Long: `Remove staged uploads older than the configured TTL. Uploads that
never reached commit (client disconnect, crash) leave files in the
staging area; they hold no metadata and no quota, so sweeping them is
always safe.

Examples:
  mediatheque sweep
  mediatheque sweep --ttl 1h`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTTL, "ttl", 0, "minimum age before removal (default: staging_ttl from config)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	ttl := sweepTTL
	if ttl <= 0 {
		ttl = cfg.StagingTTLDuration()
	}

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	removed, err := e.pipeline.SweepStaging(cmd.Context(), ttl)
	if err != nil {
		return fmt.Errorf("sweep staging: %w", err)
	}
	fmt.Printf("Removed %d stale staging file(s)\n", removed)
	return nil
}
