package pathres

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	log "github.com/sirupsen/logrus"

	"github.com/ControlledChaos/mediatheque/internal/common"
)

// mover performs the physical half of a subtree move: rename-in-place when
// the filesystem supports it, copy-then-delete otherwise, with rollback of
// partial copies so a failed relocation leaves the tree untouched.
type mover struct {
	fs billy.Filesystem
}

// relocate moves oldPath to newPath as a single all-or-nothing step.
func (m *mover) relocate(oldPath, newPath string) error {
	if parent := common.ParentPath(newPath); parent != "" {
		if err := m.fs.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("%w: create destination parent: %v", common.ErrPhysical, err)
		}
	}
	if _, err := m.fs.Stat(newPath); err == nil {
		return fmt.Errorf("%w: destination %s occupied", common.ErrPhysical, newPath)
	}

	if err := m.fs.Rename(oldPath, newPath); err == nil {
		return nil
	}

	// Rename failed; assume a volume boundary and fall back to
	// copy-then-delete. A partial copy is rolled back before reporting.
	if err := m.copyTree(oldPath, newPath); err != nil {
		if rmErr := util.RemoveAll(m.fs, newPath); rmErr != nil {
			log.WithError(rmErr).WithField("path", newPath).
				Warn("rollback of partial copy failed; orphan bytes left at destination")
		}
		return fmt.Errorf("%w: copy %s to %s: %v", common.ErrPhysical, oldPath, newPath, err)
	}
	if err := util.RemoveAll(m.fs, oldPath); err != nil {
		// the copy is complete and authoritative; the stale source is a
		// space leak, not an inconsistency
		log.WithError(err).WithField("path", oldPath).
			Warn("could not remove source after cross-volume copy")
	}
	return nil
}

func (m *mover) copyTree(src, dst string) error {
	info, err := m.fs.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return m.copyFile(src, dst, info.Mode())
	}
	if err := m.fs.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	entries, err := m.fs.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.copyTree(path.Join(src, e.Name()), path.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (m *mover) copyFile(src, dst string, mode os.FileMode) error {
	in, err := m.fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := m.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
