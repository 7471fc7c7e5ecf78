package audit

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Verify recomputes the hash chain of a captured log, assuming it begins a
// fresh segment (empty seed digest). It returns nil when every hash= field
// matches, or an error naming the first bad line.
func Verify(r io.Reader) error {
	return VerifyFrom(r, "")
}

// VerifyFrom recomputes the chain starting from a known previous digest,
// for logs that continue a chain persisted from an earlier process.
func VerifyFrom(r io.Reader, seed string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	prev := seed
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}

		idx := strings.LastIndex(text, "|hash=")
		if idx < 0 {
			return fmt.Errorf("audit line %d: missing hash field", line)
		}
		entry, got := text[:idx], text[idx+len("|hash="):]

		want := chainDigest(prev, entry)
		if got != want {
			return fmt.Errorf("audit line %d: chain broken: recorded hash %s, recomputed %s", line, got, want)
		}
		prev = want
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	return nil
}
