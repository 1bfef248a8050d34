package pool

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Generate returns n fresh random identifiers.
func Generate(n int) []string {
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, uuid.NewString())
	}
	return out
}

// ReadIdentifiers parses one identifier per line. Blank lines and lines
// starting with '#' are ignored.
func ReadIdentifiers(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if errScan := scanner.Err(); errScan != nil {
		return nil, fmt.Errorf("pool: read identifiers: %w", errScan)
	}
	return out, nil
}

// LoadFile reads identifiers from path.
func LoadFile(path string) ([]string, error) {
	f, errOpen := os.Open(path)
	if errOpen != nil {
		return nil, fmt.Errorf("pool: open %s: %w", path, errOpen)
	}
	defer func() { _ = f.Close() }()
	return ReadIdentifiers(f)
}
