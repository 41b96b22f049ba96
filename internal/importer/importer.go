// Package importer attaches external coverage artifacts to a run.
//
// An artifact is validated against the parser registered for its format tag
// and then carried verbatim as the run's external metadata. Import failures
// are non-fatal to the pipeline: the run is still recorded, just without
// the external payload.
package importer

import (
	"fmt"
	"os"

	"github.com/mhatzl/embedded-runner/internal/coverage"
	"github.com/mhatzl/embedded-runner/pkg/formats"
)

// ErrorKind classifies import failures.
type ErrorKind int

const (
	// UnsupportedFormat means no parser is registered for the tag.
	UnsupportedFormat ErrorKind = iota

	// InvalidArtifact means the artifact does not match the tag's shape.
	InvalidArtifact
)

func (k ErrorKind) String() string {
	switch k {
	case UnsupportedFormat:
		return "unsupported format"
	case InvalidArtifact:
		return "invalid artifact"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a typed import failure.
type Error struct {
	Kind ErrorKind
	Tag  formats.Tag
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("importer: %s %q: %v", e.Kind, e.Tag, e.Err)
	}
	return fmt.Sprintf("importer: %s %q", e.Kind, e.Tag)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Import validates artifact against the parser for tag and packages it for
// attachment. The payload is the artifact verbatim; Origin is left for the
// caller to fill in.
func Import(artifact []byte, tag formats.Tag) (coverage.ExternalMeta, error) {
	parser, ok := formats.Lookup(tag)
	if !ok {
		return coverage.ExternalMeta{}, &Error{Kind: UnsupportedFormat, Tag: tag}
	}
	if err := parser.Validate(artifact); err != nil {
		return coverage.ExternalMeta{}, &Error{Kind: InvalidArtifact, Tag: tag, Err: err}
	}
	return coverage.ExternalMeta{
		Format:  string(tag),
		Payload: artifact,
	}, nil
}

// ImportFile reads and imports an artifact file, recording the path as the
// payload's origin.
func ImportFile(path string, tag formats.Tag) (coverage.ExternalMeta, error) {
	artifact, err := os.ReadFile(path)
	if err != nil {
		return coverage.ExternalMeta{}, fmt.Errorf("importer: read artifact: %w", err)
	}
	meta, err := Import(artifact, tag)
	if err != nil {
		return coverage.ExternalMeta{}, err
	}
	meta.Origin = path
	return meta, nil
}
