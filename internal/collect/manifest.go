package collect

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadManifest reads a manifest listing one document path per line.
// Blank lines and lines starting with '#' are skipped. Relative paths are
// resolved against the manifest's own directory, so a manifest can travel
// with the documents it names.
func ReadManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("collect: open manifest: %w", err)
	}
	defer f.Close()

	base := filepath.Dir(path)

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("collect: read manifest: %w", err)
	}

	return paths, nil
}

// ScanDir lists the coverage documents in dir: every *.json file, sorted
// by name, excluding the given output path so an aggregate written into
// the same directory is never fed back into a merge.
func ScanDir(dir, exclude string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("collect: scan %s: %w", dir, err)
	}

	excludeAbs := ""
	if exclude != "" {
		if abs, err := filepath.Abs(exclude); err == nil {
			excludeAbs = abs
		}
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if excludeAbs != "" {
			if abs, err := filepath.Abs(path); err == nil && abs == excludeAbs {
				continue
			}
		}
		paths = append(paths, path)
	}

	return paths, nil
}
