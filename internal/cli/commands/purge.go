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
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var purgeYes bool

var purgeCmd = &cobra.Command{
	Use:   "purge <owner-id>",
	Short: "Delete everything an owner stores",
	Long: `Delete every file, folder, node record, and the quota ledger entry of
an owner. Used when the owner's account is removed. This cannot be
undone.

Examples:
  mediatheque purge alice
  mediatheque purge alice --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runPurge,
}

func init() {
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) error {
	ownerID := args[0]

	if !purgeYes {
		fmt.Printf("Delete ALL media stored by %q? This cannot be undone. [y/N]: ", ownerID)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Println("Aborted")
			return nil
		}
	}

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.pipeline.PurgeOwner(cmd.Context(), ownerID); err != nil {
		return fmt.Errorf("purge %s: %w", ownerID, err)
	}
	fmt.Printf("Owner %s purged\n", ownerID)
	return nil
}
