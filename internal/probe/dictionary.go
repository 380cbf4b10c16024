package probe

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed dictionary_default.txt
var embeddedDictionary string

// LoadDictionary reads a newline-delimited payload file, preserving order.
// Blank lines and comment lines are skipped. An empty path loads the
// embedded default dictionary.
func LoadDictionary(path string) ([]string, error) {
	raw := embeddedDictionary
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("probe: reading dictionary %s: %w", path, err)
		}
		raw = string(data)
	}

	lines := strings.Split(raw, "\n")
	payloads := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		payloads = append(payloads, line)
	}

	if len(payloads) == 0 {
		return nil, fmt.Errorf("probe: dictionary %s is empty", path)
	}
	return payloads, nil
}
