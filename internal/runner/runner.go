// Package runner drives one firmware test run on real hardware: it flashes
// and starts the test binary under GDB with OpenOCD as a piped target, taps
// the firmware's RTT channel over a local TCP port, and feeds the byte
// stream through the capture pipeline into a coverage document.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mhatzl/embedded-runner/internal/capture"
	"github.com/mhatzl/embedded-runner/internal/config"
	"github.com/mhatzl/embedded-runner/internal/document"
	"github.com/mhatzl/embedded-runner/internal/logging"
	"github.com/mhatzl/embedded-runner/internal/pipeline"
	"github.com/mhatzl/embedded-runner/internal/rtt"
	"github.com/mhatzl/embedded-runner/internal/symbols"
	"github.com/mhatzl/embedded-runner/pkg/formats"
)

// gdbStopGrace is how long a signalled GDB process group gets to exit
// before it is killed.
const gdbStopGrace = 2 * time.Second

// Runner executes firmware test runs against one configuration. Safe for
// sequential reuse; concurrent runs need distinct configurations so RTT
// ports and script paths do not collide.
type Runner struct {
	cfg *config.Config
	log *logging.Logger
}

// New returns a Runner over cfg. The configuration should already be
// validated with ValidateForRun.
func New(cfg *config.Config) *Runner {
	return &Runner{
		cfg: cfg,
		log: logging.Default().WithComponent("runner"),
	}
}

// CapturePath returns where the raw stream archive of a run is written
// when capturing is enabled.
func (r *Runner) CapturePath(runID string) string {
	return filepath.Join(r.cfg.DataDir, runID+".raw.zst")
}

// scriptPath returns where the rendered GDB command file of a run is
// written. Kept after the run so a failing script can be inspected.
func (r *Runner) scriptPath(runID string) string {
	return filepath.Join(r.cfg.DataDir, runID+".gdb")
}

type pipeResult struct {
	doc *document.Coverage
	err error
}

// Run executes one test run of binary and returns its coverage document.
// An empty runID generates a random UUID.
//
// The pre-runner hook failing aborts the run; the post-runner hook always
// runs once the pre-runner succeeded, and its failure is only logged
// because the coverage evidence already exists by then. On context
// cancellation or a GDB failure the partial document is returned alongside
// the error so callers can still persist what was observed.
func (r *Runner) Run(ctx context.Context, binary, runID string) (*document.Coverage, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	cfg := r.cfg

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	if err := runHook(ctx, cfg.PreRunner, "pre-runner", binary, runID); err != nil {
		return nil, err
	}
	defer func() {
		// The run is over either way; a cancelled ctx must not skip the
		// hook, so it runs on its own context.
		if err := runHook(context.Background(), cfg.PostRunner, "post-runner", binary, runID); err != nil {
			r.log.Warn("post-runner hook failed", "error", err)
		}
	}()

	// The hook may have (re)built the binary, so read it afterwards.
	table, err := symbols.Load(binary)
	if err != nil {
		return nil, err
	}
	rttAddr, rttSize, err := symbols.RTTControlBlock(binary)
	if err != nil {
		return nil, err
	}

	script, err := RenderScript(cfg, binary, rttAddr, rttSize)
	if err != nil {
		return nil, err
	}
	scriptPath := r.scriptPath(runID)
	if err := os.WriteFile(scriptPath, []byte(script), 0644); err != nil {
		return nil, fmt.Errorf("runner: write gdb script: %w", err)
	}

	r.log.Info("starting run",
		"run_id", runID,
		"binary", binary,
		"symbols", table.Len(),
		"rtt_port", cfg.RTTPort)

	cmd := exec.Command(cfg.GDB, "-x", scriptPath, binary)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = gdbSysProcAttr()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("runner: start gdb: %w", err)
	}
	gdbDone := make(chan error, 1)
	go func() { gdbDone <- cmd.Wait() }()

	conn, err := rtt.Dial(ctx, rtt.Addr(cfg.RTTPort), cfg.RTTTimeout.Std())
	if err != nil {
		r.stopGDB(cmd, gdbDone)
		return nil, err
	}
	defer conn.Close()

	var stream io.Reader = conn
	var archive *capture.Writer
	if cfg.Capture {
		path := r.CapturePath(runID)
		archive, err = capture.NewWriter(path)
		if err != nil {
			r.stopGDB(cmd, gdbDone)
			return nil, err
		}
		stream = io.TeeReader(conn, archive)
		r.log.Info("recording capture", "path", path)
	}

	var meta []byte
	var metaOrigin string
	if cfg.RunMeta != "" {
		meta, err = os.ReadFile(cfg.RunMeta)
		if err != nil {
			r.log.Warn("run metadata unreadable", "path", cfg.RunMeta, "error", err)
			meta = nil
		} else {
			metaOrigin = cfg.RunMeta
		}
	}

	pipeDone := make(chan pipeResult, 1)
	go func() {
		doc, perr := pipeline.Run(ctx, stream, table, pipeline.Options{
			RunID:          runID,
			MaxFrameSize:   cfg.FrameMax,
			External:       meta,
			ExternalTag:    formats.TagRunMetaJSON,
			ExternalOrigin: metaOrigin,
		})
		pipeDone <- pipeResult{doc: doc, err: perr}
	}()

	// GDB exiting tears the stream down (OpenOCD is its pipe child), and
	// the pipeline failing fatally brings GDB down. Whichever side ends
	// first, the other is shut down before results are read.
	var gdbErr error
	var res pipeResult
	select {
	case gdbErr = <-gdbDone:
		conn.Close()
		res = <-pipeDone

	case res = <-pipeDone:
		if res.err != nil {
			gdbErr = r.stopGDB(cmd, gdbDone)
		} else {
			gdbErr = r.waitGDB(ctx, cmd, gdbDone)
		}
		conn.Close()

	case <-ctx.Done():
		gdbErr = r.stopGDB(cmd, gdbDone)
		conn.Close()
		res = <-pipeDone
	}

	if archive != nil {
		if cerr := archive.Close(); cerr != nil {
			r.log.Warn("capture archive not closed cleanly", "error", cerr)
		}
	}

	if res.err != nil {
		return nil, res.err
	}
	if ctx.Err() != nil {
		return res.doc, fmt.Errorf("runner: %w", ctx.Err())
	}
	if gdbErr != nil {
		return res.doc, fmt.Errorf("runner: gdb: %w", gdbErr)
	}

	r.log.Info("run finished",
		"run_id", runID,
		"tests", len(res.doc.Outcomes),
		"evidence", len(res.doc.Evidence),
		"warnings", len(res.doc.Warnings))
	return res.doc, nil
}

// waitGDB waits for GDB to exit on its own, terminating it if the context
// ends first.
func (r *Runner) waitGDB(ctx context.Context, cmd *exec.Cmd, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return r.stopGDB(cmd, done)
	}
}

// stopGDB terminates the GDB process group: a polite signal first, then a
// kill when it lingers. Returns GDB's wait error.
func (r *Runner) stopGDB(cmd *exec.Cmd, done <-chan error) error {
	if cmd.Process == nil {
		return errors.New("runner: gdb never started")
	}
	signalGroup(cmd.Process, false)
	select {
	case err := <-done:
		return err
	case <-time.After(gdbStopGrace):
		signalGroup(cmd.Process, true)
		return <-done
	}
}
