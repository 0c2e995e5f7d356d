// Package ingest validates inbound chat text and extracts passcodes from it.
package ingest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// passcodeExp is the accepted passcode shape: 5-20 word characters.
var passcodeExp = regexp.MustCompile(`^\w{5,20}$`)

// Normalize lowercases and trims a raw code.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Valid reports whether a normalized code matches the passcode pattern.
func Valid(code string) bool {
	return passcodeExp.MatchString(code)
}

// ExtractCodes splits an inbound message into candidate codes. Blank lines
// and '#' comment lines are skipped; lines that do not look like a passcode
// are logged and dropped.
func ExtractCodes(text string, log *zap.Logger) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		code := Normalize(line)
		if code == "" || strings.HasPrefix(code, "#") {
			continue
		}
		if !Valid(code) {
			log.Warn("skipped code", zap.String("code", code))
			continue
		}
		out = append(out, code)
	}
	return out
}

// putter is the slice of the relay service the seeder feeds.
type putter interface {
	PutCode(ctx context.Context, code string) (string, error)
}

// SeedFromFile loads one code per line from a plain text file, the way the
// relay is primed from passcode.txt on startup.
func SeedFromFile(ctx context.Context, path string, svc putter, log *zap.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	var n int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		for _, code := range ExtractCodes(sc.Text(), log) {
			if _, err := svc.PutCode(ctx, code); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, sc.Err()
}
