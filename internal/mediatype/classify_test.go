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

package mediatype

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		filename  string
		sniffed   string
		wantClass Class
		wantExt   string
	}{
		{"jpeg", "photo.jpg", "image/jpeg", ClassImage, "jpg"},
		{"png with wrong ext", "photo.jpg", "image/png", ClassImage, "png"},
		{"pdf disguised as jpg", "invoice.jpg", "application/pdf", ClassDocument, "pdf"},
		{"plain text", "notes.txt", "text/plain; charset=utf-8", ClassDocument, "txt"},
		{"mp3", "song.mp3", "audio/mpeg", ClassAudio, "mp3"},
		{"mp4", "clip.mp4", "video/mp4", ClassVideo, "mp4"},
		{"zip", "bundle.zip", "application/zip", ClassArchive, "zip"},
		{"unknown image subtype", "x.heic", "image/heic", ClassImage, "heic"},
		{"unknown binary", "blob.bin", "application/octet-stream", ClassOther, "bin"},
		{"unknown binary no ext", "blob", "application/octet-stream", ClassOther, ""},
		{"case insensitive", "PHOTO.JPG", "IMAGE/JPEG", ClassImage, "jpg"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			class, ext := Classify(tt.filename, tt.sniffed)
			assert.Equal(t, tt.wantClass, class)
			assert.Equal(t, tt.wantExt, ext)
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	t.Parallel()

	c1, e1 := Classify("a.png", "image/png")
	c2, e2 := Classify("a.png", "image/png")
	assert.Equal(t, c1, c2)
	assert.Equal(t, e1, e2)
}

func TestAllowList(t *testing.T) {
	t.Parallel()

	var open AllowList
	assert.True(t, open.Allows(ClassArchive))

	imagesOnly := AllowList{ClassImage}
	assert.True(t, imagesOnly.Allows(ClassImage))
	assert.False(t, imagesOnly.Allows(ClassVideo))
}

// pngHeader is a minimal valid PNG signature plus IHDR chunk prefix.
var pngHeader = []byte{
	0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n',
	0, 0, 0, 13, 'I', 'H', 'D', 'R',
}

func TestSniffReplaysStream(t *testing.T) {
	t.Parallel()

	payload := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0xab}, 4096)...)
	ct, replay, err := Sniff(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	got, err := io.ReadAll(replay)
	require.NoError(t, err)
	assert.Equal(t, payload, got, "sniffing must not consume bytes")
}

func TestSniffShortStream(t *testing.T) {
	t.Parallel()

	ct, replay, err := Sniff(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "text/plain"))

	got, err := io.ReadAll(replay)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}
