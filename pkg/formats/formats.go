// Package formats provides pluggable parsers for external coverage
// artifacts.
//
// An external artifact (a coverage report produced by a different tool) is
// attached to a run verbatim; the parsers here validate only that the bytes
// have the shape their format tag promises. Nothing is interpreted beyond
// that check, so the payload survives byte-identically into the coverage
// document.
//
// # Supported Formats
//
//   - cobertura-xml: a Cobertura XML coverage report
//   - mantra-json: a mantra requirement-trace JSON export
//   - run-meta-json: arbitrary run metadata as a JSON object
//
// # Usage
//
//	parser, ok := formats.Lookup(formats.TagCoberturaXML)
//	if !ok {
//	    // unsupported format
//	}
//	if err := parser.Validate(artifact); err != nil {
//	    // artifact does not match the format
//	}
package formats

import (
	"fmt"
	"sort"
	"sync"
)

// Tag identifies one supported external artifact format.
type Tag string

const (
	TagCoberturaXML Tag = "cobertura-xml"
	TagMantraJSON   Tag = "mantra-json"
	TagRunMetaJSON  Tag = "run-meta-json"
)

// ParseTag converts a user-supplied string into a known Tag.
func ParseTag(s string) (Tag, error) {
	switch Tag(s) {
	case TagCoberturaXML, TagMantraJSON, TagRunMetaJSON:
		return Tag(s), nil
	default:
		return "", fmt.Errorf("formats: unknown format tag %q", s)
	}
}

// Parser validates that artifact bytes match one external format.
type Parser interface {
	// Tag returns the format tag this parser handles.
	Tag() Tag

	// DisplayName returns a human-readable format name.
	DisplayName() string

	// Validate checks the artifact's shape. The bytes are never modified
	// or retained.
	Validate(artifact []byte) error
}

// Registry manages format parser registration.
type Registry struct {
	mu      sync.RWMutex
	parsers map[Tag]Parser
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[Tag]Parser)}
}

// Register adds a parser to the registry, replacing any parser already
// registered for the same tag.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.Tag()] = p
}

// RegisterDefaults registers all built-in parsers.
func (r *Registry) RegisterDefaults() {
	r.Register(coberturaParser{})
	r.Register(mantraParser{})
	r.Register(runMetaParser{})
}

// Lookup returns the parser for a tag.
func (r *Registry) Lookup(tag Tag) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[tag]
	return p, ok
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tag, 0, len(r.parsers))
	for tag := range r.parsers {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultRegistry is the global registry instance with all built-in parsers
// registered.
var DefaultRegistry = func() *Registry {
	r := NewRegistry()
	r.RegisterDefaults()
	return r
}()

// Register adds a parser to the default registry.
func Register(p Parser) {
	DefaultRegistry.Register(p)
}

// Lookup returns a parser from the default registry.
func Lookup(tag Tag) (Parser, bool) {
	return DefaultRegistry.Lookup(tag)
}
