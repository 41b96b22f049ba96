//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mhatzl/embedded-runner/internal/capture"
	"github.com/mhatzl/embedded-runner/internal/decode"
	"github.com/mhatzl/embedded-runner/internal/document"
	"github.com/mhatzl/embedded-runner/internal/pipeline"
	"github.com/mhatzl/embedded-runner/internal/symbols"
)

// =============================================================================
// Capture to Document Flow
// =============================================================================

// TestCaptureToDocumentFlow drives a clean firmware run through the whole
// pipeline and checks the resulting document field by field.
func TestCaptureToDocumentFlow(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	stream := newStream().
		Cover("REQ-INIT-1"). // before any test boundary
		TraceRoot("hw").
		StartTest("boot").
		Cover("REQ-BOOT-1").
		Note("clock at 32MHz").
		Cover("REQ-BOOT-2").
		EndTest("boot", "passed").
		StartTest("uart_echo").
		Cover("REQ-UART-3").
		FailTest("uart_echo", "rx timeout").
		StartTest("flash_wipe").
		EndTest("flash_wipe", "ignored").
		Bytes()

	doc := env.RunPipeline(stream, "run-hw-1")

	AssertEqual(t, "run-hw-1", doc.RunID, "run id should round-trip")
	AssertEqual(t, document.SchemaVersion, doc.SchemaVersion, "schema version")

	// Outcomes are sorted by test name.
	AssertEqual(t, 3, len(doc.Outcomes), "outcome count")
	AssertEqual(t, "boot", doc.Outcomes[0].TestName, "first outcome name")
	AssertEqual(t, "passed", doc.Outcomes[0].Status, "boot status")
	AssertTrue(t, doc.Outcomes[0].DurationUS != nil, "boot should carry a duration")
	AssertEqual(t, int64(4000), *doc.Outcomes[0].DurationUS, "boot duration in microseconds")
	AssertEqual(t, "flash_wipe", doc.Outcomes[1].TestName, "second outcome name")
	AssertEqual(t, "ignored", doc.Outcomes[1].Status, "flash_wipe status")
	AssertEqual(t, "uart_echo", doc.Outcomes[2].TestName, "third outcome name")
	AssertEqual(t, "failed", doc.Outcomes[2].Status, "uart_echo status")
	AssertEqual(t, "rx timeout", doc.Outcomes[2].Reason, "uart_echo failure reason")

	// Evidence keeps stream order; the namespace applies only after the
	// trace root record.
	AssertEqual(t, 4, len(doc.Evidence), "evidence count")
	AssertEqual(t, "REQ-INIT-1", doc.Evidence[0].RequirementID, "pre-root requirement stays bare")
	AssertEqual(t, "<untracked>", doc.Evidence[0].TestName, "coverage before any test is untracked")
	AssertEqual(t, uint64(0), doc.Evidence[0].Seq, "first evidence seq")
	AssertEqual(t, "hw::REQ-BOOT-1", doc.Evidence[1].RequirementID, "namespaced requirement")
	AssertEqual(t, "boot", doc.Evidence[1].TestName, "boot evidence attribution")
	AssertEqual(t, "hw::REQ-BOOT-2", doc.Evidence[2].RequirementID, "second boot requirement")
	AssertEqual(t, "hw::REQ-UART-3", doc.Evidence[3].RequirementID, "uart requirement")
	AssertEqual(t, "uart_echo", doc.Evidence[3].TestName, "uart evidence attribution")
	AssertEqual(t, "harness/assert.c", doc.Evidence[1].File, "evidence source file")
	AssertEqual(t, 102, doc.Evidence[1].Line, "evidence source line")

	AssertEqual(t, uint64(12), doc.Stats.FramesRead, "frames read")
	AssertEqual(t, uint64(12), doc.Stats.RecordsDecoded, "records decoded")
	AssertEqual(t, uint64(0), doc.Stats.MalformedFrames, "no malformed frames")
	AssertEqual(t, 0, len(doc.Warnings), "clean run has no warnings")

	data, err := doc.Encode()
	AssertNoError(t, err, "document should encode")
	AssertNoError(t, document.ValidateCoverage(data), "document should satisfy its schema")
}

// TestDegradedStreamKeepsEvidence corrupts the stream in three distinct
// ways and checks that decoding degrades without losing the surviving
// records.
func TestDegradedStreamKeepsEvidence(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	stream := newStream().
		StartTest("boot").
		Noise(0x17, 0x99, 0x42).
		Cover("REQ-BOOT-1").
		Oversize(5000). // exceeds the default frame size limit
		UnknownSymbol(0xDEAD).
		EndTest("boot", "passed").
		Bytes()

	doc := env.RunPipeline(stream, "run-degraded")

	AssertEqual(t, 1, len(doc.Outcomes), "outcome count")
	AssertEqual(t, "passed", doc.Outcomes[0].Status, "boot still passes")
	AssertEqual(t, 1, len(doc.Evidence), "surviving evidence count")
	AssertEqual(t, "REQ-BOOT-1", doc.Evidence[0].RequirementID, "surviving requirement")

	AssertEqual(t, uint64(4), doc.Stats.RecordsDecoded, "records decoded")
	AssertEqual(t, uint64(1), doc.Stats.MalformedFrames, "malformed frames")
	AssertEqual(t, uint64(5), doc.Stats.FramesRead, "frames read includes malformed")
	AssertEqual(t, uint64(1), doc.Stats.FramesLost, "oversize run counts as one gap")
	AssertEqual(t, uint64(5000), doc.Stats.BytesDropped, "gap byte count")
	AssertEqual(t, uint64(1), doc.Stats.UnknownSymbols, "unknown symbol count")

	joined := strings.Join(doc.Warnings, "\n")
	AssertTrue(t, strings.Contains(joined, "gap"), "warnings mention the gap, got %q", joined)
	AssertTrue(t, strings.Contains(joined, "malformed"), "warnings mention malformed frames, got %q", joined)
	AssertTrue(t, strings.Contains(joined, "symbol table"), "warnings mention unknown symbols, got %q", joined)

	data, err := doc.Encode()
	AssertNoError(t, err, "degraded document should encode")
	AssertNoError(t, document.ValidateCoverage(data), "degraded document should satisfy its schema")
}

// TestIncompleteTestClosedAtStreamEnd cuts the stream before a test.end
// boundary; the open test must be closed as failed rather than dropped.
func TestIncompleteTestClosedAtStreamEnd(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	stream := newStream().
		StartTest("watchdog").
		Cover("REQ-WDG-1").
		Bytes()

	doc := env.RunPipeline(stream, "run-truncated")

	AssertEqual(t, 1, len(doc.Outcomes), "outcome count")
	AssertEqual(t, "watchdog", doc.Outcomes[0].TestName, "outcome name")
	AssertEqual(t, "failed", doc.Outcomes[0].Status, "unterminated test fails")
	AssertEqual(t, "incomplete", doc.Outcomes[0].Reason, "failure reason")
	AssertEqual(t, 1, len(doc.Evidence), "evidence survives the cut")
	AssertEqual(t, "watchdog", doc.Evidence[0].TestName, "evidence stays attributed")
}

// =============================================================================
// Capture Archive Replay
// =============================================================================

// TestCaptureReplayMatchesLiveDecode records a stream into a compressed
// capture file and checks that replaying it yields a byte-identical
// document.
func TestCaptureReplayMatchesLiveDecode(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	stream := newStream().
		TraceRoot("fw").
		StartTest("boot").
		Cover("REQ-BOOT-1").
		EndTest("boot", "passed").
		StartTest("adc_cal").
		Cover("REQ-ADC-2").
		Cover("REQ-ADC-3").
		EndTest("adc_cal", "passed").
		Bytes()

	// Record the capture in uneven chunks, the way a serial read loop
	// delivers data.
	path := filepath.Join(env.TempDir, "run.raw.zst")
	w, err := capture.NewWriter(path)
	AssertNoError(t, err, "capture writer should open")
	for off := 0; off < len(stream); {
		n := 7
		if off+n > len(stream) {
			n = len(stream) - off
		}
		_, err := w.Write(stream[off : off+n])
		AssertNoError(t, err, "capture write")
		off += n
	}
	AssertNoError(t, w.Close(), "capture writer should close")

	live, err := pipeline.Run(env.Ctx, bytes.NewReader(stream), env.Table, pipeline.Options{RunID: "replay-1"})
	AssertNoError(t, err, "live decode should succeed")

	r, err := capture.Open(path)
	AssertNoError(t, err, "capture should reopen")
	replay, err := pipeline.Run(env.Ctx, r, env.Table, pipeline.Options{RunID: "replay-1"})
	AssertNoError(t, err, "replay decode should succeed")
	AssertNoError(t, r.Close(), "capture reader should close")

	liveData, err := live.Encode()
	AssertNoError(t, err, "live document should encode")
	replayData, err := replay.Encode()
	AssertNoError(t, err, "replayed document should encode")
	AssertEqual(t, string(liveData), string(replayData), "replay must reproduce the live document")
}

// TestPipelineObserverSeesStreamOrder wires an OnRecord observer and checks
// it sees every decoded record in stream order, including best-effort
// records for unknown addresses.
func TestPipelineObserverSeesStreamOrder(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	stream := newStream().
		Note("alpha").
		UnknownSymbol(0xBEEF).
		Note("omega").
		Bytes()

	var seqs []uint64
	_, err := pipeline.Run(env.Ctx, bytes.NewReader(stream), env.Table, pipeline.Options{
		RunID: "run-observer",
		OnRecord: func(rec decode.LogRecord) {
			seqs = append(seqs, rec.Seq)
		},
	})
	AssertNoError(t, err, "pipeline run should succeed")

	AssertEqual(t, 3, len(seqs), "observer record count")
	for i, seq := range seqs {
		AssertEqual(t, uint64(i), seq, "seq of record %d", i)
	}
}

// TestExportedTableDrivesPipeline loads the symbol table from its JSON
// export instead of an ELF binary and checks the pipeline output is
// identical to the in-memory table's.
func TestExportedTableDrivesPipeline(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	export, err := json.Marshal(map[string]any{
		"version": symbols.TableVersion,
		"symbols": testSymbols(),
	})
	AssertNoError(t, err, "table export should marshal")
	path := filepath.Join(env.TempDir, "fw.symbols.json")
	AssertNoError(t, os.WriteFile(path, export, 0644), "table export should write")

	table, err := symbols.Load(path)
	AssertNoError(t, err, "exported table should load")
	AssertEqual(t, len(testSymbols()), table.Len(), "loaded entry count")

	stream := newStream().
		StartTest("boot").
		Cover("REQ-BOOT-1").
		EndTest("boot", "passed").
		Bytes()

	fromExport, err := pipeline.Run(env.Ctx, bytes.NewReader(stream), table, pipeline.Options{RunID: "run-json"})
	AssertNoError(t, err, "decode with exported table")
	fromMemory, err := pipeline.Run(env.Ctx, bytes.NewReader(stream), env.Table, pipeline.Options{RunID: "run-json"})
	AssertNoError(t, err, "decode with in-memory table")

	a, err := fromExport.Encode()
	AssertNoError(t, err, "exported-table document should encode")
	b, err := fromMemory.Encode()
	AssertNoError(t, err, "in-memory-table document should encode")
	AssertEqual(t, string(b), string(a), "table source must not change the document")
}

// TestEmptyStreamYieldsEmptyDocument checks that a source which closes
// immediately still produces a valid, empty document.
func TestEmptyStreamYieldsEmptyDocument(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	doc, err := pipeline.Run(env.Ctx, bytes.NewReader(nil), env.Table, pipeline.Options{RunID: "run-empty"})
	AssertNoError(t, err, "empty stream should not fail")
	AssertEqual(t, 0, len(doc.Outcomes), "no outcomes")
	AssertEqual(t, 0, len(doc.Evidence), "no evidence")
	AssertEqual(t, uint64(0), doc.Stats.FramesRead, "no frames read")

	data, err := doc.Encode()
	AssertNoError(t, err, "empty document should encode")
	AssertNoError(t, document.ValidateCoverage(data), "empty document should satisfy its schema")
}
