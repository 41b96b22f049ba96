// Package importer tests.
package importer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhatzl/embedded-runner/pkg/formats"
)

// =============================================================================
// Import Tests
// =============================================================================

func TestImport_PayloadIsVerbatim(t *testing.T) {
	artifact := []byte(`{"board":  "nucleo",
		"odd   whitespace": true}`)

	meta, err := Import(artifact, formats.TagRunMetaJSON)
	require.NoError(t, err)
	assert.Equal(t, "run-meta-json", meta.Format)
	assert.Equal(t, artifact, meta.Payload)
	assert.Empty(t, meta.Origin)
}

func TestImport_UnsupportedFormat(t *testing.T) {
	_, err := Import([]byte("anything"), "lcov")
	require.Error(t, err)

	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, UnsupportedFormat, ierr.Kind)
	assert.Equal(t, formats.Tag("lcov"), ierr.Tag)
	assert.Contains(t, ierr.Error(), "unsupported format")
}

func TestImport_InvalidArtifact(t *testing.T) {
	_, err := Import([]byte(`{"no": "traces"}`), formats.TagMantraJSON)
	require.Error(t, err)

	var ierr *Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, InvalidArtifact, ierr.Kind)
	assert.Error(t, ierr.Unwrap())
}

func TestImport_Cobertura(t *testing.T) {
	meta, err := Import([]byte(`<coverage line-rate="1.0"/>`), formats.TagCoberturaXML)
	require.NoError(t, err)
	assert.Equal(t, "cobertura-xml", meta.Format)
}

// =============================================================================
// ImportFile Tests
// =============================================================================

func TestImportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"commit": "abc"}`), 0644))

	meta, err := ImportFile(path, formats.TagRunMetaJSON)
	require.NoError(t, err)
	assert.Equal(t, path, meta.Origin)
	assert.Equal(t, []byte(`{"commit": "abc"}`), meta.Payload)
}

func TestImportFile_MissingFile(t *testing.T) {
	_, err := ImportFile(filepath.Join(t.TempDir(), "absent.json"), formats.TagRunMetaJSON)
	require.Error(t, err)

	var ierr *Error
	assert.False(t, errors.As(err, &ierr), "read failures are not import errors")
}
