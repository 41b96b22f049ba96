// Package collect merges canonical coverage documents into aggregate
// documents and drives the surrounding workflow: manifest-based input
// discovery, schema validation, atomic output writes, and a watch mode
// that re-merges a directory as new documents appear.
package collect

import (
	"bytes"
	"fmt"

	"github.com/mhatzl/embedded-runner/internal/document"
)

// MergeErrorKind classifies why a merge was rejected.
type MergeErrorKind int

const (
	// SchemaVersionMismatch means an input document carries a schema
	// version other than the one this build understands. Field semantics
	// are not assumed compatible across versions, so this is fatal.
	SchemaVersionMismatch MergeErrorKind = iota

	// DuplicateRun means two input documents carry the same run id.
	// Run ids qualify every outcome, so a duplicate would silently
	// double-count a run.
	DuplicateRun
)

func (k MergeErrorKind) String() string {
	switch k {
	case SchemaVersionMismatch:
		return "schema version mismatch"
	case DuplicateRun:
		return "duplicate run"
	default:
		return fmt.Sprintf("merge error kind(%d)", int(k))
	}
}

// MergeError reports the offending input by position and run id.
type MergeError struct {
	Kind  MergeErrorKind
	Index int    // position of the offending document in the input slice
	RunID string // run id of the offending document
	Got   int    // schema version found (SchemaVersionMismatch only)
	Want  int    // schema version required (SchemaVersionMismatch only)
}

func (e *MergeError) Error() string {
	switch e.Kind {
	case SchemaVersionMismatch:
		return fmt.Sprintf("collect: document %d (run %q): schema version %d, want %d",
			e.Index, e.RunID, e.Got, e.Want)
	case DuplicateRun:
		return fmt.Sprintf("collect: document %d: duplicate run id %q", e.Index, e.RunID)
	default:
		return fmt.Sprintf("collect: document %d (run %q): %s", e.Index, e.RunID, e.Kind)
	}
}

// Merge combines coverage documents into one aggregate. Runs appear in
// input order, so the output is deterministic for a given input sequence
// but not commutative: merging [A B] and [B A] yields the same content in
// a different order.
//
// Merge never mutates its inputs; every slice and payload is copied into
// the aggregate. All inputs must carry the current schema version and
// distinct run ids, otherwise a *MergeError identifies the first offender.
func Merge(docs []*document.Coverage) (*document.Aggregate, error) {
	agg := &document.Aggregate{
		SchemaVersion: document.SchemaVersion,
		Runs:          make([]document.Run, 0, len(docs)),
	}

	seen := make(map[string]struct{}, len(docs))
	for i, doc := range docs {
		if doc.SchemaVersion != document.SchemaVersion {
			return nil, &MergeError{
				Kind:  SchemaVersionMismatch,
				Index: i,
				RunID: doc.RunID,
				Got:   doc.SchemaVersion,
				Want:  document.SchemaVersion,
			}
		}
		if _, dup := seen[doc.RunID]; dup {
			return nil, &MergeError{Kind: DuplicateRun, Index: i, RunID: doc.RunID}
		}
		seen[doc.RunID] = struct{}{}

		agg.Runs = append(agg.Runs, document.Run{
			RunID:    doc.RunID,
			Outcomes: cloneOutcomes(doc.Outcomes),
			Evidence: cloneEvidence(doc.Evidence),
			External: cloneExternal(doc.External),
			Stats:    doc.Stats,
			Warnings: cloneStrings(doc.Warnings),
		})
	}

	return agg, nil
}

func cloneOutcomes(src []document.Outcome) []document.Outcome {
	dst := make([]document.Outcome, len(src))
	copy(dst, src)
	for i := range dst {
		if src[i].DurationUS != nil {
			us := *src[i].DurationUS
			dst[i].DurationUS = &us
		}
	}
	return dst
}

func cloneEvidence(src []document.Evidence) []document.Evidence {
	dst := make([]document.Evidence, len(src))
	copy(dst, src)
	return dst
}

func cloneExternal(src *document.ExternalMeta) *document.ExternalMeta {
	if src == nil {
		return nil
	}
	return &document.ExternalMeta{
		Format:  src.Format,
		Origin:  src.Origin,
		Payload: bytes.Clone(src.Payload),
	}
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
