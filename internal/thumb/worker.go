package thumb

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	log "github.com/sirupsen/logrus"
)

// DefaultSizes is the derivative ladder applied to committed images.
var DefaultSizes = []Box{
	{Width: 150, Height: 150},
	{Width: 300, Height: 300},
	{Width: 1024, Height: 1024},
}

// Job asks for every configured derivative of one committed image.
type Job struct {
	RelPath string // resolved path of the committed original
}

// Worker generates derivatives asynchronously after commit. Enqueue never
// blocks the commit path: when the queue is full the job is dropped and
// logged, and the derivative stays re-derivable on demand.
type Worker struct {
	fs    billy.Filesystem
	codec Codec
	sizes []Box

	jobs chan Job
	wg   sync.WaitGroup
	once sync.Once
}

// NewWorker creates a derivative worker. A nil codec disables generation
// (every job is dropped with a debug log); nil sizes selects DefaultSizes.
func NewWorker(fs billy.Filesystem, codec Codec, sizes []Box, queueLen int) *Worker {
	if sizes == nil {
		sizes = DefaultSizes
	}
	if queueLen <= 0 {
		queueLen = 64
	}
	return &Worker{
		fs:    fs,
		codec: codec,
		sizes: sizes,
		jobs:  make(chan Job, queueLen),
	}
}

// Start launches the background generation loop. It returns immediately;
// the loop drains the queue until Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-w.jobs:
				if !ok {
					return
				}
				if err := w.Generate(job.RelPath); err != nil {
					log.WithError(err).WithField("path", job.RelPath).
						Warn("derivative generation failed; original remains valid")
				}
			}
		}
	}()
}

// Stop closes the queue and waits for in-flight generation to finish.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.jobs) })
	w.wg.Wait()
}

// Enqueue schedules derivative generation for a committed image.
func (w *Worker) Enqueue(job Job) {
	if w.codec == nil {
		log.WithField("path", job.RelPath).Debug("no codec configured; skipping derivatives")
		return
	}
	select {
	case w.jobs <- job:
	default:
		log.WithField("path", job.RelPath).
			Warn("derivative queue full; dropping job, re-derivable on demand")
	}
}

// Generate synchronously derives every configured size for the image at
// relPath. Used by the worker loop and for on-demand regeneration of a
// missing derivative.
func (w *Worker) Generate(relPath string) error {
	if w.codec == nil {
		return nil
	}
	for _, box := range w.sizes {
		if err := w.generateOne(relPath, box); err != nil {
			return err
		}
	}
	return nil
}

// DerivativePath returns where the derivative for a box lives:
// "dir/name.jpg" becomes "dir/name-150x150.jpg".
func DerivativePath(relPath string, box Box) string {
	dir := path.Dir(relPath)
	base := path.Base(relPath)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return path.Join(dir, fmt.Sprintf("%s-%s.jpg", stem, box))
}

func (w *Worker) generateOne(relPath string, box Box) error {
	src, err := w.fs.Open(relPath)
	if err != nil {
		return fmt.Errorf("open original: %w", err)
	}
	defer src.Close()

	raster, err := w.codec.Derive(src, box)
	if err != nil {
		return err
	}

	out := DerivativePath(relPath, box)
	f, err := w.fs.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create derivative: %w", err)
	}
	if _, err := f.Write(raster.Data); err != nil {
		f.Close()
		return fmt.Errorf("write derivative: %w", err)
	}
	return f.Close()
}
