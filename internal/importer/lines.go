package importer

import (
	"os"
	"path/filepath"
	"strings"
)

// removeLines rewrites path without the given lines
func removeLines(path string, drop []string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[strings.TrimSpace(d)] = true
	}

	var keep []string
	for _, line := range strings.Split(string(data), "\n") {
		if t := strings.TrimSpace(line); t != "" && !skip[t] {
			keep = append(keep, t)
		}
	}

	out := strings.Join(keep, "\n")
	if len(keep) > 0 {
		out += "\n"
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".keys-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
