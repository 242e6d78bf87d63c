package ingest

import (
	"context"
	"os"
	"path"
	"time"

	log "github.com/sirupsen/logrus"
)

// SweepStaging removes staged uploads older than ttl. Uploads abandoned
// mid-flight (client disconnect, process crash) leave orphans in the
// staging directory; they hold no node record and no quota, so removal is
// safe at any time.
func (p *Pipeline) SweepStaging(ctx context.Context, ttl time.Duration) (int, error) {
	entries, err := p.fs.ReadDir(StagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || entry.ModTime().After(cutoff) {
			continue
		}
		stale := path.Join(StagingDir, entry.Name())
		if err := p.fs.Remove(stale); err != nil {
			if os.IsNotExist(err) {
				continue // another sweeper got it first
			}
			log.WithError(err).WithField("path", stale).Warn("could not remove stale staged upload")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("staging sweep complete")
	}
	return removed, nil
}
