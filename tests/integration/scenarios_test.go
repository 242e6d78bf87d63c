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

// Package integration exercises the full engine in-process: ingestion,
// path resolution, quota accounting, and thumbnail generation wired
// together the way a serving process wires them.
package integration

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	. "github.com/onsi/gomega"

	"github.com/ControlledChaos/mediatheque/internal/common"
	"github.com/ControlledChaos/mediatheque/internal/ingest"
	"github.com/ControlledChaos/mediatheque/internal/mediatype"
	"github.com/ControlledChaos/mediatheque/internal/pathres"
	"github.com/ControlledChaos/mediatheque/internal/quota"
	"github.com/ControlledChaos/mediatheque/internal/store"
	"github.com/ControlledChaos/mediatheque/internal/thumb"
	"github.com/ControlledChaos/mediatheque/internal/util"
)

type engine struct {
	st       *store.MemStore
	fs       billy.Filesystem
	resolver *pathres.Resolver
	ledger   *quota.Ledger
	pipeline *ingest.Pipeline
	thumbs   *thumb.Worker
	cancel   context.CancelFunc
}

func newEngine(t *testing.T, opts ingest.Options) *engine {
	t.Helper()
	st := store.NewMemStore()
	fs := memfs.New()
	locks := util.NewOwnerLocks("")
	ledger := quota.NewLedger(st)
	resolver := pathres.New(st, fs, locks)
	thumbs := thumb.NewWorker(fs, &thumb.RasterCodec{}, thumb.DefaultSizes, 16)

	ctx, cancel := context.WithCancel(context.Background())
	thumbs.Start(ctx)

	e := &engine{
		st:       st,
		fs:       fs,
		resolver: resolver,
		ledger:   ledger,
		pipeline: ingest.NewPipeline(st, fs, resolver, ledger, locks, thumbs, nil, opts),
		thumbs:   thumbs,
		cancel:   cancel,
	}
	t.Cleanup(func() {
		e.thumbs.Stop()
		e.cancel()
	})
	return e
}

func (e *engine) upload(ctx context.Context, owner, parent, name string, body []byte) (*store.Node, error) {
	return e.pipeline.Ingest(ctx, ingest.Upload{
		Caller:       owner,
		OwnerID:      owner,
		ParentID:     parent,
		Visibility:   store.VisibilityPublic,
		Filename:     name,
		Body:         bytes.NewReader(body),
		DeclaredSize: int64(len(body)),
	})
}

// photoPNG renders a gradient PNG large enough to exercise downscaling.
func photoPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// TestPhotoUploadLifecycle uploads a photo and verifies classification,
// placement, quota accounting, and asynchronous thumbnail generation.
func TestPhotoUploadLifecycle(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	ctx := context.Background()
	e := newEngine(t, ingest.Options{})

	photo := photoPNG(t, 640, 480)
	node, err := e.upload(ctx, "alice", "", "photo.png", photo)
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(node.MediaClass).To(Equal(mediatype.ClassImage))
	g.Expect(node.ContentType).To(Equal("image/png"))
	g.Expect(node.RelPath).To(Equal("public/alice/photo.png"))
	g.Expect(node.ByteSize).To(Equal(int64(len(photo))))

	used, err := e.ledger.Peek(ctx, "alice")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(used).To(Equal(int64(len(photo))))

	for _, box := range thumb.DefaultSizes {
		derivative := thumb.DerivativePath(node.RelPath, box)
		g.Eventually(func() bool {
			_, err := e.fs.Stat(derivative)
			return err == nil
		}, 5*time.Second, 50*time.Millisecond).Should(BeTrue(), "derivative %s generated", derivative)
	}
}

// TestFolderMoveKeepsSubtreeConsistent builds a small hierarchy, moves a
// folder, and verifies every descendant's bytes and metadata moved with it.
func TestFolderMoveKeepsSubtreeConsistent(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	ctx := context.Background()
	e := newEngine(t, ingest.Options{})

	archive, err := e.pipeline.CreateFolder(ctx, "bob", "bob", "", store.VisibilityPublic, "Archive")
	g.Expect(err).NotTo(HaveOccurred())
	inbox, err := e.pipeline.CreateFolder(ctx, "bob", "bob", "", store.VisibilityPublic, "Inbox")
	g.Expect(err).NotTo(HaveOccurred())

	doc, err := e.upload(ctx, "bob", inbox.ID, "report.txt", []byte("q3 numbers"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(doc.RelPath).To(Equal("public/bob/Inbox/report.txt"))

	newPath, err := e.resolver.Move(ctx, inbox, archive)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(newPath).To(Equal("public/bob/Archive/Inbox"))

	// descendant metadata rewritten
	moved, err := e.st.GetNode(ctx, doc.ID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(moved.RelPath).To(Equal("public/bob/Archive/Inbox/report.txt"))

	// bytes followed the move
	_, err = e.fs.Stat("public/bob/Archive/Inbox/report.txt")
	g.Expect(err).NotTo(HaveOccurred())
	_, err = e.fs.Stat("public/bob/Inbox")
	g.Expect(err).To(HaveOccurred())

	// quota unchanged by a move
	used, err := e.ledger.Peek(ctx, "bob")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(used).To(Equal(int64(len("q3 numbers"))))
}

// TestMoveIntoDescendantRejected verifies a folder cannot be moved into
// its own subtree and that nothing changes when the move is refused.
func TestMoveIntoDescendantRejected(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	ctx := context.Background()
	e := newEngine(t, ingest.Options{})

	top, err := e.pipeline.CreateFolder(ctx, "carol", "carol", "", store.VisibilityPublic, "Top")
	g.Expect(err).NotTo(HaveOccurred())
	mid, err := e.pipeline.CreateFolder(ctx, "carol", "carol", top.ID, store.VisibilityPublic, "Mid")
	g.Expect(err).NotTo(HaveOccurred())
	leaf, err := e.pipeline.CreateFolder(ctx, "carol", "carol", mid.ID, store.VisibilityPublic, "Leaf")
	g.Expect(err).NotTo(HaveOccurred())

	_, err = e.resolver.Move(ctx, top, leaf)
	g.Expect(err).To(MatchError(common.ErrCycle))

	// hierarchy untouched
	fresh, err := e.st.GetNode(ctx, top.ID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(fresh.ParentID).To(BeEmpty())
	g.Expect(fresh.RelPath).To(Equal("public/carol/Top"))
	_, err = e.fs.Stat("public/carol/Top/Mid/Leaf")
	g.Expect(err).NotTo(HaveOccurred())
}

// TestConcurrentUploadsLinearizeQuota runs two uploads for the same owner
// in parallel and verifies the ledger lands on exactly the sum.
func TestConcurrentUploadsLinearizeQuota(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	ctx := context.Background()
	e := newEngine(t, ingest.Options{})

	small := bytes.Repeat([]byte("a"), 1<<20)
	large := bytes.Repeat([]byte("b"), 3<<20)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, c := range []struct {
		name string
		body []byte
	}{
		{"small.bin", small},
		{"large.bin", large},
	} {
		wg.Add(1)
		go func(name string, body []byte) {
			defer wg.Done()
			_, err := e.upload(ctx, "dave", "", name, body)
			errs <- err
		}(c.name, c.body)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		g.Expect(err).NotTo(HaveOccurred())
	}

	used, err := e.ledger.Peek(ctx, "dave")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(used).To(Equal(int64(4 << 20)))
}

// TestQuotaCapAcrossUploads verifies the cap holds across a sequence of
// uploads and that a refused upload leaves no residue.
func TestQuotaCapAcrossUploads(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	ctx := context.Background()
	e := newEngine(t, ingest.Options{QuotaBytes: 1 << 20})

	half := bytes.Repeat([]byte("x"), 512<<10)
	_, err := e.upload(ctx, "erin", "", "first.bin", half)
	g.Expect(err).NotTo(HaveOccurred())
	_, err = e.upload(ctx, "erin", "", "second.bin", half)
	g.Expect(err).NotTo(HaveOccurred())

	_, err = e.upload(ctx, "erin", "", "third.bin", []byte("one byte too many"))
	g.Expect(err).To(MatchError(common.ErrQuotaExceeded))

	used, err := e.ledger.Peek(ctx, "erin")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(used).To(Equal(int64(1 << 20)))

	// removing the second upload frees room again
	node, err := e.st.ChildByName(ctx, "erin", "", "second.bin")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(e.pipeline.Remove(ctx, "erin", node)).To(Succeed())

	_, err = e.upload(ctx, "erin", "", "third.bin", half)
	g.Expect(err).NotTo(HaveOccurred())
}

// TestReconcileRepairsDrift removes bytes behind the ledger's back and
// verifies reconciliation converges the ledger to disk truth.
func TestReconcileRepairsDrift(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	ctx := context.Background()
	e := newEngine(t, ingest.Options{})

	_, err := e.upload(ctx, "frank", "", "kept.txt", bytes.Repeat([]byte("k"), 1000))
	g.Expect(err).NotTo(HaveOccurred())
	_, err = e.upload(ctx, "frank", "", "vanished.txt", bytes.Repeat([]byte("v"), 500))
	g.Expect(err).NotTo(HaveOccurred())

	// simulate out-of-band deletion
	g.Expect(e.fs.Remove("public/frank/vanished.txt")).To(Succeed())

	drift, err := e.ledger.Reconcile(ctx, e.fs, "frank")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(drift.LedgerBytes).To(Equal(int64(1500)))
	g.Expect(drift.ActualBytes).To(Equal(int64(1000)))

	used, err := e.ledger.Peek(ctx, "frank")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(used).To(Equal(int64(1000)))
}
