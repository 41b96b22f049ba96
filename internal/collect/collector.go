package collect

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mhatzl/embedded-runner/internal/document"
)

// LoadFile reads one coverage document, validates it against the document
// schema, and decodes it. Validation runs first so a malformed file is
// reported with schema details rather than a decode error.
func LoadFile(path string) (*document.Coverage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("collect: read %s: %w", path, err)
	}
	if err := document.ValidateCoverage(data); err != nil {
		return nil, fmt.Errorf("collect: %s: %w", path, err)
	}
	doc, err := document.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("collect: %s: %w", path, err)
	}
	return doc, nil
}

// LoadFiles loads every path in order, failing on the first bad document.
func LoadFiles(paths []string) ([]*document.Coverage, error) {
	docs := make([]*document.Coverage, 0, len(paths))
	for _, path := range paths {
		doc, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// WriteAggregate writes the aggregate to path atomically: the encoded
// bytes go to a temporary file in the same directory which is then
// renamed over the target, so readers never observe a partial document.
func WriteAggregate(path string, agg *document.Aggregate) error {
	data, err := agg.Encode()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("collect: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("collect: write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("collect: sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("collect: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("collect: rename to %s: %w", path, err)
	}

	return nil
}

// CollectFiles loads, validates, and merges the given documents, then
// writes the aggregate to output. With an empty output the aggregate is
// returned without being written.
func CollectFiles(paths []string, output string) (*document.Aggregate, error) {
	docs, err := LoadFiles(paths)
	if err != nil {
		return nil, err
	}
	agg, err := Merge(docs)
	if err != nil {
		return nil, err
	}
	if output != "" {
		if err := WriteAggregate(output, agg); err != nil {
			return nil, err
		}
	}
	return agg, nil
}

// CollectManifest merges the documents named by a manifest file. After a
// successful merge the manifest is deleted so the same inputs are not
// collected twice; keep retains it.
func CollectManifest(manifest, output string, keep bool) (*document.Aggregate, error) {
	paths, err := ReadManifest(manifest)
	if err != nil {
		return nil, err
	}
	agg, err := CollectFiles(paths, output)
	if err != nil {
		return nil, err
	}
	if !keep {
		if err := os.Remove(manifest); err != nil {
			return nil, fmt.Errorf("collect: consume manifest: %w", err)
		}
	}
	return agg, nil
}

// CollectDir merges every *.json document in dir (excluding the output
// file itself) into output.
func CollectDir(dir, output string) (*document.Aggregate, error) {
	paths, err := ScanDir(dir, output)
	if err != nil {
		return nil, err
	}
	return CollectFiles(paths, output)
}
