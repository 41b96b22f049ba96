package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/mhatzl/embedded-runner/internal/collect"
	"github.com/mhatzl/embedded-runner/internal/config"
	"github.com/mhatzl/embedded-runner/internal/document"
	"github.com/mhatzl/embedded-runner/internal/logging"
	"github.com/mhatzl/embedded-runner/internal/pipeline"
	"github.com/mhatzl/embedded-runner/internal/runner"
	"github.com/mhatzl/embedded-runner/internal/store"
)

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "runner config file (default: searched)")
	runID := fs.String("run-id", "", "run id (default: random; a matrix appends -1, -2, ...)")
	metaPath := fs.String("meta", "", "metadata JSON attached to each document (overrides run-meta)")
	outPath := fs.String("out", "", "document output file (single binary only; default <data-dir>/<run-id>.json)")
	aggPath := fs.String("aggregate", "", "merge matrix documents into this aggregate file")
	noStore := fs.Bool("no-store", false, "skip archiving documents in the run store")
	var binaries stringList
	fs.Var(&binaries, "binary", "test binary to run (repeatable for a parallel matrix)")
	fs.Parse(args)

	if len(binaries) == 0 {
		usagef("run: at least one -binary is required")
	}
	if *outPath != "" && len(binaries) > 1 {
		usagef("run: -out applies to a single binary; use -aggregate for a matrix")
	}

	cfg := loadConfig(*configPath)
	if *metaPath != "" {
		cfg.RunMeta = *metaPath
	}
	if err := cfg.ValidateForRun(); err != nil {
		fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Each matrix entry gets its own RTT port so the debug servers do not
	// collide. Run ids must stay unique across the matrix too.
	runs := make([]pipeline.MatrixRun, len(binaries))
	for i, bin := range binaries {
		runCfg := *cfg
		runCfg.RTTPort = cfg.RTTPort + i
		id := *runID
		if id != "" && len(binaries) > 1 {
			id = fmt.Sprintf("%s-%d", id, i+1)
		}
		r := runner.New(&runCfg)
		runs[i] = pipeline.MatrixRun{
			Name: bin,
			Execute: func(ctx context.Context) (*document.Coverage, error) {
				return r.Run(ctx, bin, id)
			},
		}
	}

	results, runErr := pipeline.RunMatrix(ctx, runs)

	// Persist every produced document, including partial ones from failed
	// runs; degraded evidence beats no evidence.
	var docs []*document.Coverage
	for _, res := range results {
		if res.Err != nil {
			logging.Error("run failed", "binary", res.Name, "error", res.Err)
		}
		if res.Doc == nil {
			continue
		}
		path := *outPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, res.Doc.RunID+".json")
		}
		if err := writeDocument(path, res.Doc); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("run %s: %d tests, %d evidence entries -> %s\n",
			res.Doc.RunID, len(res.Doc.Outcomes), len(res.Doc.Evidence), path)
		docs = append(docs, res.Doc)
	}

	if !*noStore && len(docs) > 0 {
		archiveRuns(cfg, results)
	}

	if *aggPath != "" && runErr == nil {
		agg, err := collect.Merge(docs)
		if err != nil {
			fatalf("merging matrix documents: %v", err)
		}
		if err := collect.WriteAggregate(*aggPath, agg); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("aggregate of %d runs -> %s\n", len(agg.Runs), *aggPath)
	}

	if runErr != nil {
		fatalf("%v", runErr)
	}
}

// writeDocument writes one coverage document, creating parent directories
// so the default data-dir output works in a fresh workspace.
func writeDocument(path string, doc *document.Coverage) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

// archiveRuns saves finished documents in the run store. An archive
// failure only warns: the document files already exist on disk.
func archiveRuns(cfg *config.Config, results []pipeline.MatrixResult) {
	st, err := store.Open(cfg.StorePath())
	if err != nil {
		logging.Warn("run store unavailable", "path", cfg.StorePath(), "error", err)
		return
	}
	defer st.Close()

	for _, res := range results {
		if res.Doc == nil {
			continue
		}
		if err := st.Save(res.Doc, res.Name); err != nil {
			logging.Warn("run not archived", "run_id", res.Doc.RunID, "error", err)
		}
	}
}
