// Package coverage correlates decoded log records to test outcomes and
// requirement evidence.
//
// The firmware test harness marks structure with reserved field keys:
// test.start/test.end bound a test, req.cover records requirement evidence,
// and trace.root switches the namespace requirement ids are interpreted
// under. Everything else passes through untouched. An Extractor consumes
// the record sequence of one run and produces its RunCoverage model; no
// evidence is ever dropped, and degradation (gaps, malformed frames,
// unfinished tests) is encoded in the model itself.
package coverage

import (
	"fmt"
	"sort"
	"time"

	"github.com/mhatzl/embedded-runner/internal/decode"
	"github.com/mhatzl/embedded-runner/internal/frame"
)

// Reserved field keys recognized by the extractor. These are part of the
// firmware harness contract.
const (
	KeyTestStart = "test.start"
	KeyTestEnd   = "test.end"
	KeyTestName  = "test_name"
	KeyResult    = "result"
	KeyReason    = "reason"
	KeyReqCover  = "req.cover"
	KeyTraceRoot = "trace.root"
)

// UntrackedTest is the synthetic test name evidence is attributed to when
// no test is open.
const UntrackedTest = "<untracked>"

// failureReasonIncomplete marks a test whose end record never arrived.
const failureReasonIncomplete = "incomplete"

// recordKind is the closed classification of a record. Classification
// happens here and nowhere else.
type recordKind int

const (
	kindPlain recordKind = iota
	kindTestStart
	kindTestEnd
	kindReqCover
	kindTraceRoot
)

func classify(rec decode.LogRecord) recordKind {
	if _, ok := rec.Field(KeyTestStart); ok {
		return kindTestStart
	}
	if _, ok := rec.Field(KeyTestEnd); ok {
		return kindTestEnd
	}
	if _, ok := rec.Field(KeyReqCover); ok {
		return kindReqCover
	}
	if _, ok := rec.Field(KeyTraceRoot); ok {
		return kindTraceRoot
	}
	return kindPlain
}

// openTest is an in-progress test awaiting its end record.
type openTest struct {
	name      string
	startSeq  uint64
	startTime time.Duration
	hasTime   bool
}

// Extractor builds the RunCoverage model for one run. Not safe for
// concurrent use; each run owns its Extractor exclusively.
type Extractor struct {
	model      *RunCoverage
	open       map[string]openTest
	index      map[string]int // test name -> position in model.Outcomes
	current    string         // open test evidence is attributed to
	activeRoot string         // trace.root prefix for requirement ids
	done       bool
}

// NewExtractor returns an Extractor for the given run id.
func NewExtractor(runID string) *Extractor {
	return &Extractor{
		model: &RunCoverage{RunID: runID},
		open:  make(map[string]openTest),
		index: make(map[string]int),
	}
}

// Observe feeds one decoded record to the extractor in sequence order.
func (e *Extractor) Observe(rec decode.LogRecord) {
	if e.done {
		return
	}
	e.model.Stats.RecordsDecoded++

	switch classify(rec) {
	case kindTestStart:
		e.observeStart(rec)
	case kindTestEnd:
		e.observeEnd(rec)
	case kindReqCover:
		e.observeCover(rec)
	case kindTraceRoot:
		root, _ := rec.Field(KeyTraceRoot)
		e.activeRoot = root
	case kindPlain:
		// Pass-through; ordinary logging is not evidence.
	}
}

// ObserveGap records a frame-loss marker emitted by the stream reader.
func (e *Extractor) ObserveGap(g frame.Gap) {
	if e.done {
		return
	}
	e.model.Stats.FramesLost++
	e.model.Stats.BytesDropped += uint64(g.BytesDropped)
	e.warnf("gap at offset %d: %d bytes dropped (%s)", g.Offset, g.BytesDropped, g.Reason)
}

// CountMalformed records a frame the decoder rejected as malformed.
func (e *Extractor) CountMalformed() {
	if e.done {
		return
	}
	e.model.Stats.MalformedFrames++
}

// CountUnknownSymbol records a frame whose address missed the symbol table.
// The decoder still produced a record for it; Observe is called separately.
func (e *Extractor) CountUnknownSymbol() {
	if e.done {
		return
	}
	e.model.Stats.UnknownSymbols++
}

// AttachExternal stores an imported external coverage artifact on the model.
func (e *Extractor) AttachExternal(meta ExternalMeta) {
	if e.done {
		return
	}
	e.model.External = &meta
}

// Warn appends a free-form warning to the model, for conditions observed
// outside the record stream such as a failed artifact import.
func (e *Extractor) Warn(msg string) {
	if e.done {
		return
	}
	e.model.Warnings = append(e.model.Warnings, msg)
}

// Finalize closes the model and returns it. Tests still open are recorded
// as failed with reason "incomplete". Finalize is idempotent; the model is
// read-only afterwards.
func (e *Extractor) Finalize() *RunCoverage {
	if e.done {
		return e.model
	}
	e.done = true

	// Close leftover tests in start order so output is deterministic.
	leftover := make([]openTest, 0, len(e.open))
	for _, ot := range e.open {
		leftover = append(leftover, ot)
	}
	sort.Slice(leftover, func(i, j int) bool { return leftover[i].startSeq < leftover[j].startSeq })
	for _, ot := range leftover {
		e.upsert(TestOutcome{
			TestName: ot.name,
			Status:   StatusFailed,
			Reason:   failureReasonIncomplete,
		})
	}

	st := &e.model.Stats
	st.FramesRead = st.RecordsDecoded + st.MalformedFrames
	if st.MalformedFrames > 0 {
		e.warnf("%d malformed frames skipped", st.MalformedFrames)
	}
	if st.UnknownSymbols > 0 {
		e.warnf("%d frames referenced addresses unknown to the symbol table", st.UnknownSymbols)
	}
	return e.model
}

func (e *Extractor) observeStart(rec decode.LogRecord) {
	name := e.testName(rec, KeyTestStart)
	if name == "" {
		e.warnf("test boundary record without a name at seq %d", rec.Seq)
		return
	}
	// Latest wins: a repeated start replaces the in-progress entry, which
	// models a retry within one run.
	e.open[name] = openTest{
		name:      name,
		startSeq:  rec.Seq,
		startTime: rec.Timestamp,
		hasTime:   rec.HasTimestamp,
	}
	e.current = name
}

func (e *Extractor) observeEnd(rec decode.LogRecord) {
	name := e.testName(rec, KeyTestEnd)
	if name == "" {
		e.warnf("test boundary record without a name at seq %d", rec.Seq)
		return
	}

	outcome := TestOutcome{TestName: name}
	switch result, _ := rec.Field(KeyResult); result {
	case string(StatusPassed):
		outcome.Status = StatusPassed
	case string(StatusIgnored):
		outcome.Status = StatusIgnored
	case string(StatusFailed):
		outcome.Status = StatusFailed
		outcome.Reason = "failure"
		if reason, ok := rec.Field(KeyReason); ok {
			outcome.Reason = reason
		}
	case "":
		outcome.Status = StatusFailed
		outcome.Reason = "missing result"
	default:
		outcome.Status = StatusFailed
		outcome.Reason = "unrecognized result: " + result
	}

	ot, wasOpen := e.open[name]
	if wasOpen {
		delete(e.open, name)
		if ot.hasTime && rec.HasTimestamp && rec.Timestamp >= ot.startTime {
			outcome.Duration = rec.Timestamp - ot.startTime
			outcome.HasDuration = true
		}
	} else {
		// The start record may have been lost to corruption; keep the
		// outcome rather than discarding a completed test.
		e.warnf("test.end without matching test.start: %s (seq %d)", name, rec.Seq)
	}

	e.upsert(outcome)
	if e.current == name {
		e.current = ""
	}
}

func (e *Extractor) observeCover(rec decode.LogRecord) {
	id, _ := rec.Field(KeyReqCover)
	if id == "" {
		e.warnf("requirement annotation without an id at seq %d", rec.Seq)
		return
	}
	if e.activeRoot != "" {
		id = e.activeRoot + "::" + id
	}
	testName := e.current
	if testName == "" {
		testName = UntrackedTest
	}
	e.model.Evidence = append(e.model.Evidence, Evidence{
		RequirementID: id,
		TestName:      testName,
		File:          rec.File,
		Line:          rec.Line,
		HasLocation:   rec.HasLocation,
		Seq:           rec.Seq,
	})
}

// testName resolves the name of a test boundary record: the test_name field
// when present, otherwise the value of the boundary key itself.
func (e *Extractor) testName(rec decode.LogRecord, boundaryKey string) string {
	if name, ok := rec.Field(KeyTestName); ok && name != "" {
		return name
	}
	name, _ := rec.Field(boundaryKey)
	return name
}

// upsert records an outcome, replacing any earlier outcome for the same
// test. Position in the outcome list is first-appearance order.
func (e *Extractor) upsert(outcome TestOutcome) {
	if i, ok := e.index[outcome.TestName]; ok {
		e.model.Outcomes[i] = outcome
		return
	}
	e.index[outcome.TestName] = len(e.model.Outcomes)
	e.model.Outcomes = append(e.model.Outcomes, outcome)
}

func (e *Extractor) warnf(format string, args ...any) {
	e.model.Warnings = append(e.model.Warnings, fmt.Sprintf(format, args...))
}
