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
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ControlledChaos/mediatheque/internal/mediatype"
	"github.com/ControlledChaos/mediatheque/internal/store"
	"github.com/ControlledChaos/mediatheque/internal/thumb"
)

var regenCmd = &cobra.Command{
	Use:   "regen <owner-id>",
	Short: "Regenerate an owner's image derivatives",
	Long: `Walk the owner's library and regenerate the derivative ladder for
every image. Use after changing the configured sizes or when derivatives
were lost.

Examples:
  mediatheque regen alice`,
	Args: cobra.ExactArgs(1),
	RunE: runRegen,
}

func init() {
	rootCmd.AddCommand(regenCmd)
}

func configuredSizes() []thumb.Box {
	if len(cfg.ThumbSizes) == 0 {
		return thumb.DefaultSizes
	}
	sizes := make([]thumb.Box, len(cfg.ThumbSizes))
	for i, s := range cfg.ThumbSizes {
		sizes[i] = thumb.Box{Width: s.Width, Height: s.Height}
	}
	return sizes
}

func runRegen(cmd *cobra.Command, args []string) error {
	ownerID := args[0]

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	sizes := configuredSizes()
	worker := thumb.NewWorker(e.fs, &thumb.RasterCodec{}, sizes, 0)

	var generated int
	for _, vis := range []store.Visibility{store.VisibilityPublic, store.VisibilityPrivate} {
		root := path.Join(string(vis), ownerID)
		n, err := regenTree(e.fs, worker, root, sizes)
		if err != nil {
			return fmt.Errorf("regenerate %s: %w", root, err)
		}
		generated += n
	}
	fmt.Printf("Regenerated derivatives for %d image(s)\n", generated)
	return nil
}

func regenTree(fs billy.Filesystem, worker *thumb.Worker, root string, sizes []thumb.Box) (int, error) {
	info, err := fs.Stat(root)
	if err != nil {
		// no branch for this owner
		return 0, nil
	}
	if !info.IsDir() {
		return 0, nil
	}

	entries, err := fs.ReadDir(root)
	if err != nil {
		return 0, err
	}
	generated := 0
	for _, entry := range entries {
		child := path.Join(root, entry.Name())
		if entry.IsDir() {
			n, err := regenTree(fs, worker, child, sizes)
			if err != nil {
				return generated, err
			}
			generated += n
			continue
		}
		if isDerivative(entry.Name(), sizes) {
			continue
		}
		img, err := isImage(fs, child)
		if err != nil {
			return generated, err
		}
		if !img {
			continue
		}
		if err := worker.Generate(child); err != nil {
			log.WithError(err).WithField("path", child).Warn("could not regenerate derivatives")
			continue
		}
		generated++
	}
	return generated, nil
}

// isDerivative reports whether a filename is one of the ladder outputs
// rather than an original.
func isDerivative(name string, sizes []thumb.Box) bool {
	stem := strings.TrimSuffix(name, path.Ext(name))
	for _, box := range sizes {
		if strings.HasSuffix(stem, "-"+box.String()) {
			return true
		}
	}
	return false
}

func isImage(fs billy.Filesystem, p string) (bool, error) {
	f, err := fs.Open(p)
	if err != nil {
		return false, err
	}
	defer f.Close()
	contentType, _, err := mediatype.Sniff(f)
	if err != nil {
		return false, err
	}
	class, _ := mediatype.Classify(path.Base(p), contentType)
	return class == mediatype.ClassImage, nil
}
