// Package pathutil expands user supplied file paths.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// Expand resolves environment tokens ($HOME, ${FMG_CONFIG_DIR}) and a
// leading "~/" in p, then makes it absolute. Empty stays empty.
func Expand(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}
