package quota

import (
	"context"
	"fmt"
	"path"

	"github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"

	"github.com/ControlledChaos/mediatheque/internal/store"
)

// Drift is the outcome of one owner's reconciliation pass.
type Drift struct {
	OwnerID     string
	LedgerBytes int64
	ActualBytes int64
}

// Delta returns ledger minus actual: positive means the ledger overcounts.
func (d Drift) Delta() int64 { return d.LedgerBytes - d.ActualBytes }

// Reconcile recomputes an owner's used bytes from an authoritative scan of
// the stored files under both visibility branches and overwrites the ledger
// record. This is the source of truth of last resort, run outside the hot
// path. Files that vanished underneath their records count as zero and are
// logged.
func (l *Ledger) Reconcile(ctx context.Context, fs billy.Filesystem, ownerID string) (Drift, error) {
	ledger, err := l.Peek(ctx, ownerID)
	if err != nil {
		return Drift{}, err
	}

	var actual int64
	for _, vis := range []store.Visibility{store.VisibilityPublic, store.VisibilityPrivate} {
		root := path.Join(string(vis), ownerID)
		n, err := sumTree(fs, root)
		if err != nil {
			return Drift{}, fmt.Errorf("scan %s: %w", root, err)
		}
		actual += n
	}

	if err := l.st.SetQuotaUsed(ctx, ownerID, actual); err != nil {
		return Drift{}, err
	}

	d := Drift{OwnerID: ownerID, LedgerBytes: ledger, ActualBytes: actual}
	if d.Delta() != 0 {
		log.WithFields(log.Fields{
			"owner":  ownerID,
			"ledger": ledger,
			"actual": actual,
		}).Warn("quota drift repaired")
	}
	return d, nil
}

func sumTree(fs billy.Filesystem, root string) (int64, error) {
	info, err := fs.Stat(root)
	if err != nil {
		// no branch for this owner yet
		return 0, nil
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	entries, err := fs.ReadDir(root)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		child := path.Join(root, e.Name())
		if e.IsDir() {
			n, err := sumTree(fs, child)
			if err != nil {
				return 0, err
			}
			total += n
			continue
		}
		total += e.Size()
	}
	return total, nil
}
