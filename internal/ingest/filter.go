package ingest

import (
	"fmt"
	"os"

	ignore "github.com/sabhiram/go-gitignore"
)

// Blocklist rejects uploads whose filenames match gitignore-style
// patterns, e.g. "*.exe" or "Thumbs.db". A nil Blocklist blocks nothing.
type Blocklist struct {
	matcher *ignore.GitIgnore
}

// LoadBlocklist compiles the pattern file at path. A missing file yields
// an empty blocklist.
func LoadBlocklist(path string) (*Blocklist, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	matcher, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("compile blocklist %s: %w", path, err)
	}
	return &Blocklist{matcher: matcher}, nil
}

// BlocklistFromLines compiles patterns directly; test and embedding hook.
func BlocklistFromLines(lines ...string) *Blocklist {
	return &Blocklist{matcher: ignore.CompileIgnoreLines(lines...)}
}

// Blocked reports whether the filename matches a blocked pattern.
func (b *Blocklist) Blocked(filename string) bool {
	if b == nil || b.matcher == nil {
		return false
	}
	return b.matcher.MatchesPath(filename)
}
