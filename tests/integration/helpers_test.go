//go:build integration

// Package integration provides end-to-end tests for the embedded-runner
// pipeline: wire streams through frame scanning, decoding, coverage
// correlation, document assembly, archival, and merging.
//
// Run with: go test -tags=integration ./tests/integration/...
package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mhatzl/embedded-runner/internal/document"
	"github.com/mhatzl/embedded-runner/internal/pipeline"
	"github.com/mhatzl/embedded-runner/internal/symbols"
	"github.com/mhatzl/embedded-runner/internal/wire"
)

// =============================================================================
// Test Environment Setup
// =============================================================================

// Instrumented log statement addresses of the simulated firmware.
const (
	addrTestStart = 0x0800_1000
	addrTestEnd   = 0x0800_1010
	addrTestFail  = 0x0800_1020
	addrCover     = 0x0800_1030
	addrTraceRoot = 0x0800_1040
	addrNote      = 0x0800_1050
)

func testSymbols() []symbols.Entry {
	return []symbols.Entry{
		{Address: addrTestStart, File: "harness/test.c", Line: 21, Format: "starting {test.start}"},
		{Address: addrTestEnd, File: "harness/test.c", Line: 58, Format: "finished {test.end}: {result}"},
		{Address: addrTestFail, File: "harness/test.c", Line: 63, Format: "finished {test.end}: {result} ({reason})"},
		{Address: addrCover, File: "harness/assert.c", Line: 102, Format: "covered {req.cover}"},
		{Address: addrTraceRoot, File: "harness/trace.c", Line: 17, Format: "trace root {trace.root}"},
		{Address: addrNote, File: "src/app.c", Line: 44, Format: "note {note}"},
	}
}

// TestEnv holds the components shared by one integration test.
type TestEnv struct {
	T       *testing.T
	TempDir string
	Table   *symbols.Table
	Ctx     context.Context
	Cancel  context.CancelFunc
}

// NewTestEnv creates an initialized test environment.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	return &TestEnv{
		T:       t,
		TempDir: t.TempDir(),
		Table:   symbols.NewTable(testSymbols()),
		Ctx:     ctx,
		Cancel:  cancel,
	}
}

// Cleanup releases the environment's context.
func (env *TestEnv) Cleanup() {
	env.Cancel()
}

// RunPipeline decodes a wire stream into a coverage document, failing the
// test on a fatal decode error.
func (env *TestEnv) RunPipeline(stream []byte, runID string) *document.Coverage {
	env.T.Helper()

	doc, err := pipeline.Run(env.Ctx, bytes.NewReader(stream), env.Table, pipeline.Options{RunID: runID})
	AssertNoError(env.T, err, "pipeline run should succeed")
	return doc
}

// WriteDocument encodes doc into dir under name and returns the path.
func (env *TestEnv) WriteDocument(dir, name string, doc *document.Coverage) string {
	env.T.Helper()

	data, err := doc.Encode()
	AssertNoError(env.T, err, "document should encode")
	path := filepath.Join(dir, name)
	AssertNoError(env.T, os.WriteFile(path, data, 0644), "document should write")
	return path
}

// MakeRunDocument produces the document of a minimal one-test run.
func (env *TestEnv) MakeRunDocument(runID, testName, reqID string) *document.Coverage {
	env.T.Helper()

	stream := newStream().
		StartTest(testName).
		Cover(reqID).
		EndTest(testName, "passed").
		Bytes()
	return env.RunPipeline(stream, runID)
}

// =============================================================================
// Wire Stream Builder
// =============================================================================

// streamBuilder accumulates the wire frames of one simulated firmware run.
// Each record gets a monotonically advancing firmware timestamp.
type streamBuilder struct {
	buf []byte
	ts  time.Duration
}

func newStream() *streamBuilder {
	return &streamBuilder{}
}

func (b *streamBuilder) tick() time.Duration {
	b.ts += time.Millisecond
	return b.ts
}

func (b *streamBuilder) record(addr uint64, level uint8, values ...string) *streamBuilder {
	rec := wire.Record{Address: addr, Level: level, Timestamp: b.tick(), HasTimestamp: true}
	b.buf = wire.AppendString(b.buf, rec, values...)
	return b
}

// StartTest emits a test.start boundary.
func (b *streamBuilder) StartTest(name string) *streamBuilder {
	return b.record(addrTestStart, wire.LevelInfo, name)
}

// EndTest emits a test.end boundary with the given result.
func (b *streamBuilder) EndTest(name, result string) *streamBuilder {
	return b.record(addrTestEnd, wire.LevelInfo, name, result)
}

// FailTest emits a test.end boundary with result "failed" and a reason.
func (b *streamBuilder) FailTest(name, reason string) *streamBuilder {
	return b.record(addrTestFail, wire.LevelError, name, "failed", reason)
}

// Cover emits a req.cover requirement annotation.
func (b *streamBuilder) Cover(reqID string) *streamBuilder {
	return b.record(addrCover, wire.LevelInfo, reqID)
}

// TraceRoot switches the requirement namespace.
func (b *streamBuilder) TraceRoot(root string) *streamBuilder {
	return b.record(addrTraceRoot, wire.LevelDebug, root)
}

// Note emits an ordinary log record that carries no coverage meaning.
func (b *streamBuilder) Note(text string) *streamBuilder {
	return b.record(addrNote, wire.LevelDebug, text)
}

// Noise injects raw garbage bytes terminated by a frame delimiter,
// simulating line corruption.
func (b *streamBuilder) Noise(data ...byte) *streamBuilder {
	b.buf = append(b.buf, data...)
	b.buf = append(b.buf, 0x00)
	return b
}

// Oversize injects a delimiter-free run of n bytes, which the frame reader
// must drop as a gap.
func (b *streamBuilder) Oversize(n int) *streamBuilder {
	for i := 0; i < n; i++ {
		b.buf = append(b.buf, 'A')
	}
	b.buf = append(b.buf, 0x00)
	return b
}

// UnknownSymbol emits a structurally valid frame whose address is not in
// the symbol table.
func (b *streamBuilder) UnknownSymbol(addr uint64) *streamBuilder {
	return b.record(addr, wire.LevelWarn, "x")
}

// Bytes returns the accumulated stream.
func (b *streamBuilder) Bytes() []byte {
	return b.buf
}

// =============================================================================
// Assertion Helpers
// =============================================================================

func formatMsg(format string, args []any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error, format string, args ...any) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", formatMsg(format, args), err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error, format string, args ...any) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error but got nil", formatMsg(format, args))
	}
}

// AssertEqual fails the test if expected != actual.
func AssertEqual[T comparable](t *testing.T, expected, actual T, format string, args ...any) {
	t.Helper()
	if expected != actual {
		t.Fatalf("%s: expected %v, got %v", formatMsg(format, args), expected, actual)
	}
}

// AssertNotEqual fails the test if the two values are equal.
func AssertNotEqual[T comparable](t *testing.T, unexpected, actual T, format string, args ...any) {
	t.Helper()
	if unexpected == actual {
		t.Fatalf("%s: got unwanted value %v", formatMsg(format, args), actual)
	}
}

// AssertTrue fails the test if condition is false.
func AssertTrue(t *testing.T, condition bool, format string, args ...any) {
	t.Helper()
	if !condition {
		t.Fatalf("%s: expected true", formatMsg(format, args))
	}
}

// AssertFalse fails the test if condition is true.
func AssertFalse(t *testing.T, condition bool, format string, args ...any) {
	t.Helper()
	if condition {
		t.Fatalf("%s: expected false", formatMsg(format, args))
	}
}
