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

package common

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeSegment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name", "photo.jpg", "photo.jpg"},
		{"inner dots kept", "archive.tar.gz", "archive.tar.gz"},
		{"forward slash stripped", "a/b/c", "abc"},
		{"backslash stripped", "a\\b", "ab"},
		{"dotdot traversal", "../../etc/passwd", "etcpasswd"},
		{"lone dotdot", "..", FallbackSegment},
		{"lone dot", ".", FallbackSegment},
		{"empty", "", FallbackSegment},
		{"whitespace only", "   ", FallbackSegment},
		{"whitespace collapsed", "my   holiday  photos", "my holiday photos"},
		{"control chars stripped", "evil\x00\x1bname", "evilname"},
		{"leading dot stripped", ".htaccess", "htaccess"},
		{"trimmed", "  report.pdf  ", "report.pdf"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SanitizeSegment(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.NotContains(t, got, "/")
			assert.NotContains(t, got, "\\")
			assert.False(t, strings.HasPrefix(got, ".."))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"/a/b/", "a/b"},
		{"a//b", "a/b"},
		{"", ""},
		{".", ""},
		{"/", ""},
		{"a/./b", "a/b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizePath(tt.input), "input=%q", tt.input)
	}
}

func TestRebasePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "public/u1/G/F", RebasePath("public/u1/F", "public/u1/F", "public/u1/G/F"))
	assert.Equal(t, "public/u1/G/F/a.txt", RebasePath("public/u1/F/a.txt", "public/u1/F", "public/u1/G/F"))
	assert.Equal(t, "x/deep/nested/leaf", RebasePath("old/deep/nested/leaf", "old", "x"))
}

func TestSplitAndJoin(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b", "c"}, SplitPath("/a/b/c/"))
	assert.Nil(t, SplitPath(""))
	assert.Equal(t, "a/b/c", JoinPath("a", "b", "c"))
	assert.Equal(t, "", ParentPath("a"))
	assert.Equal(t, "a/b", ParentPath("a/b/c"))
}
