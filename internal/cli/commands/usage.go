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

	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage <owner-id>",
	Short: "Show an owner's quota usage",
	Long: `Show the bytes an owner has consumed according to the quota ledger,
and the configured cap if one is set.

Examples:
  mediatheque usage alice
  mediatheque usage 42`,
	Args: cobra.ExactArgs(1),
	RunE: runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	ownerID := args[0]

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	used, err := e.ledger.Peek(cmd.Context(), ownerID)
	if err != nil {
		return fmt.Errorf("read quota: %w", err)
	}

	fmt.Printf("Owner: %s\n", ownerID)
	fmt.Printf("Used: %s\n", formatBytes(used))
	if cfg.QuotaBytes > 0 {
		fmt.Printf("Cap: %s\n", formatBytes(cfg.QuotaBytes))
		fmt.Printf("Free: %s\n", formatBytes(max64(cfg.QuotaBytes-used, 0)))
		fmt.Printf("Usage: %.1f%%\n", float64(used)/float64(cfg.QuotaBytes)*100)
	} else {
		fmt.Println("Cap: unlimited")
	}
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB (%d bytes)", float64(n)/float64(div), "KMGTPE"[exp], n)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
