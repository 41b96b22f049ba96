package coverage

import "time"

// Status of a completed test.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusIgnored Status = "ignored"
)

// TestOutcome is the result of one test executed during a run. TestName is
// unique within a run.
type TestOutcome struct {
	TestName    string
	Status      Status
	Reason      string // failed only
	Duration    time.Duration
	HasDuration bool
}

// Evidence links a test to a requirement it exercised. Many evidence
// entries may name the same requirement.
type Evidence struct {
	RequirementID string
	TestName      string
	File          string
	Line          int
	HasLocation   bool
	Seq           uint64
}

// ExternalMeta is an imported coverage artifact, stored verbatim.
type ExternalMeta struct {
	Format  string
	Origin  string
	Payload []byte
}

// Stats counts what the pipeline saw while producing the model.
type Stats struct {
	FramesRead      uint64
	FramesLost      uint64
	BytesDropped    uint64
	MalformedFrames uint64
	UnknownSymbols  uint64
	RecordsDecoded  uint64
}

// RunCoverage is the coverage model of exactly one run. It is mutable only
// through an Extractor and becomes read-only once finalized.
type RunCoverage struct {
	RunID    string
	Outcomes []TestOutcome // first-appearance order
	Evidence []Evidence    // sequence-number order
	External *ExternalMeta
	Stats    Stats
	Warnings []string
}
