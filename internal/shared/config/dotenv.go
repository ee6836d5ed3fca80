package config

import (
	"bufio"
	"os"
	"strings"
)

// loadEnvFiles reads KEY=VALUE pairs from each file that exists and exports
// them into the process environment. Best effort, for local development; a
// missing file or a malformed line is skipped silently.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if key, val, ok := parseEnvLine(scanner.Text()); ok {
				os.Setenv(key, val)
			}
		}
		_ = f.Close()
	}
}

func parseEnvLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")
	key, val, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	val = strings.TrimSpace(val)
	val = strings.Trim(val, `"'`)
	return key, val, true
}
