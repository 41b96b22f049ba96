// Package document defines the canonical coverage document shapes and the
// assembler that produces them.
//
// A Coverage document is the durable artifact of one run; an Aggregate is
// the merged union of several. Both are versioned JSON intended to be
// diffed and stored as build artifacts, so encoding is deterministic: fixed
// key order, two-space indentation, outcomes sorted by test name, evidence
// in observation order, and no wall-clock timestamps anywhere.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mhatzl/embedded-runner/internal/coverage"
)

// SchemaVersion is bumped on any incompatible document field change.
// Documents with a different version must not be interpreted.
const SchemaVersion = 1

// Outcome is one completed test.
type Outcome struct {
	TestName   string `json:"test_name"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	DurationUS *int64 `json:"duration_us,omitempty"`
}

// Evidence links a test to a requirement it exercised.
type Evidence struct {
	RequirementID string `json:"requirement_id"`
	TestName      string `json:"test_name"`
	File          string `json:"file,omitempty"`
	Line          int    `json:"line,omitempty"`
	Seq           uint64 `json:"seq"`
}

// ExternalMeta is an imported artifact carried verbatim. Payload encodes as
// base64.
type ExternalMeta struct {
	Format  string `json:"format"`
	Origin  string `json:"origin,omitempty"`
	Payload []byte `json:"payload"`
}

// Stats counts what the pipeline saw while producing the run.
type Stats struct {
	FramesRead      uint64 `json:"frames_read"`
	FramesLost      uint64 `json:"frames_lost"`
	BytesDropped    uint64 `json:"bytes_dropped"`
	MalformedFrames uint64 `json:"malformed_frames"`
	UnknownSymbols  uint64 `json:"unknown_symbols"`
	RecordsDecoded  uint64 `json:"records_decoded"`
}

// Coverage is the canonical document of one run.
type Coverage struct {
	SchemaVersion int           `json:"schema_version"`
	RunID         string        `json:"run_id"`
	Outcomes      []Outcome     `json:"outcomes"`
	Evidence      []Evidence    `json:"evidence"`
	External      *ExternalMeta `json:"external_meta,omitempty"`
	Stats         Stats         `json:"stats"`
	Warnings      []string      `json:"warnings,omitempty"`
}

// Run is one run's entry inside an Aggregate.
type Run struct {
	RunID    string        `json:"run_id"`
	Outcomes []Outcome     `json:"outcomes"`
	Evidence []Evidence    `json:"evidence"`
	External *ExternalMeta `json:"external_meta,omitempty"`
	Stats    Stats         `json:"stats"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Aggregate is the merged union of several Coverage documents, runs ordered
// by first appearance in the merge input.
type Aggregate struct {
	SchemaVersion int   `json:"schema_version"`
	Runs          []Run `json:"runs"`
}

// Assemble serializes a run coverage model into its canonical document.
// Assemble is total: any model, however sparse, has a valid document. The
// model is not retained or modified.
func Assemble(model *coverage.RunCoverage) *Coverage {
	doc := &Coverage{
		SchemaVersion: SchemaVersion,
		RunID:         model.RunID,
		Outcomes:      make([]Outcome, 0, len(model.Outcomes)),
		Evidence:      make([]Evidence, 0, len(model.Evidence)),
		Stats:         Stats(model.Stats),
	}

	for _, o := range model.Outcomes {
		out := Outcome{
			TestName: o.TestName,
			Status:   string(o.Status),
			Reason:   o.Reason,
		}
		if o.HasDuration {
			us := o.Duration.Microseconds()
			out.DurationUS = &us
		}
		doc.Outcomes = append(doc.Outcomes, out)
	}
	// Sorted by test name for reproducible diffs. Names are unique within
	// a run, so the order is totally determined.
	sort.Slice(doc.Outcomes, func(i, j int) bool {
		return doc.Outcomes[i].TestName < doc.Outcomes[j].TestName
	})

	for _, ev := range model.Evidence {
		doc.Evidence = append(doc.Evidence, Evidence{
			RequirementID: ev.RequirementID,
			TestName:      ev.TestName,
			File:          ev.File,
			Line:          ev.Line,
			Seq:           ev.Seq,
		})
	}

	if model.External != nil {
		doc.External = &ExternalMeta{
			Format:  model.External.Format,
			Origin:  model.External.Origin,
			Payload: bytes.Clone(model.External.Payload),
		}
	}
	if len(model.Warnings) > 0 {
		doc.Warnings = append([]string(nil), model.Warnings...)
	}
	return doc
}

// Encode produces the canonical JSON bytes of the document.
func (c *Coverage) Encode() ([]byte, error) {
	return encodeJSON(c)
}

// Encode produces the canonical JSON bytes of the aggregate.
func (a *Aggregate) Encode() ([]byte, error) {
	return encodeJSON(a)
}

func encodeJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("document: encode: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a coverage document. The schema version is checked for
// presence, not equality: the merger decides whether it can interpret the
// version, so it can name the offending input.
func Decode(data []byte) (*Coverage, error) {
	var doc Coverage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("document: decode: %w", err)
	}
	if doc.SchemaVersion < 1 {
		return nil, fmt.Errorf("document: missing or invalid schema_version")
	}
	return &doc, nil
}

// DecodeAggregate parses an aggregate document.
func DecodeAggregate(data []byte) (*Aggregate, error) {
	var agg Aggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil, fmt.Errorf("document: decode aggregate: %w", err)
	}
	if agg.SchemaVersion < 1 {
		return nil, fmt.Errorf("document: missing or invalid schema_version")
	}
	return &agg, nil
}
