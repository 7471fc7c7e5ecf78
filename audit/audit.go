// Package audit writes a tamper-evident, append-only event log. Every entry's
// SHA-256 digest covers the previous entry's digest, so any retroactive edit
// invalidates the rest of the chain. Detail values are sanitized before
// hashing to block log injection and unbounded entries.
//
// Line format, one entry per line:
//
//	<unixSeconds:.3f>|<EVENT_NAME>|<k=v,...>|hash=<64-hex sha256>
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// maxDetailLen caps each sanitized detail value.
const maxDetailLen = 1024

// Log is a hash-chained audit log. Writes are synchronous and serialized so
// the chain order matches the write order exactly.
type Log struct {
	mu         sync.Mutex
	w          io.Writer
	f          *os.File // set when the log owns the file
	lastDigest string
}

// New creates a log writing to w. The chain starts a fresh segment: the
// first entry's digest is seeded with an empty previous digest. Continuity
// across process restarts is a deployment concern (persist LastDigest and
// verify with VerifyFrom).
func New(w io.Writer) *Log {
	return &Log{w: w}
}

// Open creates or appends to the audit file at path.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{w: f, f: f}, nil
}

// Close closes the underlying file if the log owns one.
func (l *Log) Close() error {
	if l.f == nil {
		return nil
	}
	return l.f.Close()
}

// Append sanitizes details, formats the entry, extends the hash chain, and
// writes the line. The write happens under the log's lock so entries are
// totally ordered by the chain.
func (l *Log) Append(event string, details map[string]string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := formatEntry(time.Now(), event, details)
	digest := chainDigest(l.lastDigest, entry)

	if _, err := fmt.Fprintf(l.w, "%s|hash=%s\n", entry, digest); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	l.lastDigest = digest
	return nil
}

// LastDigest returns the digest of the most recent entry, or "" if none.
func (l *Log) LastDigest() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastDigest
}

// formatEntry renders the hashed portion of a line. Detail keys are sorted
// so the format is canonical.
func formatEntry(at time.Time, event string, details map[string]string) string {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, sanitize(k)+"="+sanitize(details[k]))
	}

	ts := float64(at.UnixMilli()) / 1000.0
	return fmt.Sprintf("%.3f|%s|%s", ts, sanitize(event), strings.Join(parts, ","))
}

// chainDigest extends the chain: sha256(prev || entry), hex-encoded.
func chainDigest(prev, entry string) string {
	sum := sha256.Sum256([]byte(prev + entry))
	return hex.EncodeToString(sum[:])
}

// sanitize strips newlines and carriage returns and truncates oversized
// values with an explicit marker. The cut backs off to a rune boundary so
// a truncated value is still valid UTF-8.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	if len(s) > maxDetailLen {
		cut := maxDetailLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "...[truncated]"
	}
	return s
}
