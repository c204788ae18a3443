package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadSelectorsFile reads one selector per line. Blank lines are skipped and
// surrounding whitespace is trimmed; order is preserved.
func LoadSelectorsFile(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // user-provided selector list
	if err != nil {
		return nil, fmt.Errorf("config: open selectors: %w", err)
	}
	defer f.Close()

	var selectors []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			selectors = append(selectors, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: read selectors: %w", err)
	}
	return selectors, nil
}
