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

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <owner-id>",
	Short: "Repair an owner's quota ledger against disk",
	Long: `Walk the owner's library on disk, sum the actual bytes, and overwrite
the quota ledger with the result. Use after out-of-band changes to the
storage tree (manual deletion, restore from backup, crash recovery).

Examples:
  mediatheque reconcile alice`,
	Args: cobra.ExactArgs(1),
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ownerID := args[0]

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	drift, err := e.ledger.Reconcile(cmd.Context(), e.fs, ownerID)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", ownerID, err)
	}

	if drift.Delta() == 0 {
		fmt.Printf("Owner %s: ledger matches disk (%s)\n", ownerID, formatBytes(drift.ActualBytes))
		return nil
	}
	fmt.Printf("Owner %s: ledger said %s, disk holds %s; ledger corrected\n",
		ownerID, formatBytes(drift.LedgerBytes), formatBytes(drift.ActualBytes))
	return nil
}
