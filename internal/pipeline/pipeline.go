// Package pipeline drives one capture stream end to end: frames are split
// off the stream, decoded against a symbol table, correlated into a
// coverage model, and assembled into a schema-stable document.
//
// Run degrades instead of aborting wherever the stream allows it. Gaps,
// malformed frames and unknown symbols are counted into the document;
// only an encoding version mismatch poisons the whole stream and fails
// the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mhatzl/embedded-runner/internal/coverage"
	"github.com/mhatzl/embedded-runner/internal/decode"
	"github.com/mhatzl/embedded-runner/internal/document"
	"github.com/mhatzl/embedded-runner/internal/frame"
	"github.com/mhatzl/embedded-runner/internal/importer"
	"github.com/mhatzl/embedded-runner/internal/symbols"
	"github.com/mhatzl/embedded-runner/pkg/formats"
)

// Options configures a single Run.
type Options struct {
	// RunID identifies the run in the document. Empty generates a
	// random UUID.
	RunID string

	// MaxFrameSize overrides the frame scanner's size limit when
	// positive.
	MaxFrameSize int

	// External is an optional coverage artifact to embed in the
	// document, parsed according to ExternalTag. An artifact that fails
	// validation is dropped with a document warning; it never fails the
	// run.
	External       []byte
	ExternalTag    formats.Tag
	ExternalOrigin string

	// OnRecord, when set, receives every decoded record in stream
	// order, including best-effort records for unknown symbols. It runs
	// synchronously on the pipeline goroutine.
	OnRecord func(decode.LogRecord)
}

// Run consumes the capture stream r until it ends and returns the
// assembled coverage document.
//
// The stream ends at io.EOF, at a closed network connection, or at any
// other read error; the latter is recorded as a document warning and the
// partial document is still produced. Cancelling ctx stops the run at the
// next frame boundary; callers reading from a network connection should
// also close it so a blocked read unblocks.
//
// The only failure that returns an error is a fatal decode failure (an
// incompatible encoding version); no document is produced then.
func Run(ctx context.Context, r io.Reader, table *symbols.Table, opts Options) (*document.Coverage, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ext := coverage.NewExtractor(runID)

	if len(opts.External) > 0 {
		meta, err := importer.Import(opts.External, opts.ExternalTag)
		if err != nil {
			ext.Warn(fmt.Sprintf("external artifact dropped: %v", err))
		} else {
			meta.Origin = opts.ExternalOrigin
			ext.AttachExternal(meta)
		}
	}

	cfg := frame.DefaultConfig()
	if opts.MaxFrameSize > 0 {
		cfg.MaxFrameSize = opts.MaxFrameSize
	}
	frames := frame.NewReaderWithConfig(r, cfg)
	dec := decode.NewDecoder(table)

	for {
		if err := ctx.Err(); err != nil {
			ext.Warn(fmt.Sprintf("capture stopped: %v", err))
			break
		}

		item, err := frames.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				ext.Warn(fmt.Sprintf("frame stream ended early: %v", err))
			}
			break
		}

		switch it := item.(type) {
		case frame.Gap:
			ext.ObserveGap(it)

		case frame.Frame:
			rec, derr := dec.Decode(it)
			if derr == nil {
				ext.Observe(rec)
				if opts.OnRecord != nil {
					opts.OnRecord(rec)
				}
				continue
			}
			if decode.IsFatal(derr) {
				return nil, derr
			}
			var de *decode.Error
			if errors.As(derr, &de) && de.Kind == decode.UnknownSymbol {
				ext.CountUnknownSymbol()
				ext.Observe(rec)
				if opts.OnRecord != nil {
					opts.OnRecord(rec)
				}
				continue
			}
			ext.CountMalformed()
		}
	}

	return document.Assemble(ext.Finalize()), nil
}

// MatrixRun is one entry of a run matrix: a name for reporting and the
// function that executes the run.
type MatrixRun struct {
	Name    string
	Execute func(ctx context.Context) (*document.Coverage, error)
}

// MatrixResult pairs a matrix entry with its outcome. Exactly one of Doc
// and Err is set.
type MatrixResult struct {
	Name string
	Doc  *document.Coverage
	Err  error
}

// RunMatrix executes the runs concurrently and returns their results in
// input order. One run failing does not cancel its siblings; every run
// finishes and reports. The returned error is the first failure, if any,
// so callers can treat the whole matrix as failed while still inspecting
// per-run results.
func RunMatrix(ctx context.Context, runs []MatrixRun) ([]MatrixResult, error) {
	results := make([]MatrixResult, len(runs))

	var g errgroup.Group
	for i, run := range runs {
		i, run := i, run
		g.Go(func() error {
			doc, err := run.Execute(ctx)
			results[i] = MatrixResult{Name: run.Name, Doc: doc, Err: err}
			if err != nil {
				return fmt.Errorf("run %q: %w", run.Name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
