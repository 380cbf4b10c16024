package dirbust

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

//go:embed wordlist_default.txt
var embeddedWordlist string

// LoadWordlist reads a newline-delimited wordlist, de-duplicated and in
// file order. Blank lines and comment lines are skipped. An empty path
// loads the embedded default list.
func LoadWordlist(path string) ([]string, error) {
	raw := embeddedWordlist
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("dirbust: reading wordlist %s: %w", path, err)
		}
		raw = string(data)
	}

	lines := strings.Split(raw, "\n")
	seen := make(map[string]struct{}, len(lines))
	var words []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		words = append(words, line)
	}

	if len(words) == 0 {
		return nil, fmt.Errorf("dirbust: wordlist is empty")
	}
	return words, nil
}
