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
	"path"
	"strings"
	"unicode"
)

// FallbackSegment is used when sanitization leaves nothing usable.
const FallbackSegment = "untitled"

// SanitizeSegment turns a user-supplied display name into a safe single path
// segment. This is the only defense against path traversal via names, so it
// must never return a segment containing a separator or one that walks up
// the tree.
func SanitizeSegment(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == 0:
			// drop separators and NUL outright
		case unicode.IsControl(r):
			// drop control characters
		default:
			b.WriteRune(r)
		}
	}
	s := strings.TrimSpace(b.String())
	// collapse runs of whitespace so "a   b" and "a b" collide predictably
	s = strings.Join(strings.Fields(s), " ")
	// "." and ".." are path operators, never names
	for strings.HasPrefix(s, "..") {
		s = strings.TrimPrefix(s, "..")
	}
	s = strings.Trim(s, ".")
	s = strings.TrimSpace(s)
	if s == "" {
		return FallbackSegment
	}
	return s
}

// NormalizePath cleans a relative path, removing leading and trailing
// slashes. Empty and "." both normalize to "".
func NormalizePath(p string) string {
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// SplitPath splits a normalized path into its components.
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath joins path components into a normalized relative path.
func JoinPath(parts ...string) string {
	return NormalizePath(path.Join(parts...))
}

// ParentPath returns the parent of a normalized path, "" at the top.
func ParentPath(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return ""
	}
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

// RebasePath substitutes oldPrefix with newPrefix in p. The caller
// guarantees p is oldPrefix itself or lives under it.
func RebasePath(p, oldPrefix, newPrefix string) string {
	p = NormalizePath(p)
	oldPrefix = NormalizePath(oldPrefix)
	if p == oldPrefix {
		return NormalizePath(newPrefix)
	}
	return JoinPath(newPrefix, strings.TrimPrefix(p, oldPrefix+"/"))
}
