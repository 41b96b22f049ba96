package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mhatzl/embedded-runner/internal/collect"
	"github.com/mhatzl/embedded-runner/internal/document"
	"github.com/mhatzl/embedded-runner/internal/logging"
	"github.com/mhatzl/embedded-runner/internal/store"
)

func cmdCollect(args []string) {
	fs := flag.NewFlagSet("collect", flag.ExitOnError)
	manifest := fs.String("manifest", "", "manifest file listing document paths (consumed after the merge)")
	dir := fs.String("dir", "", "directory of *.json documents")
	storePath := fs.String("store", "", "run store to collect archived documents from")
	outPath := fs.String("out", "", "aggregate output file")
	watch := fs.Bool("watch", false, "keep watching -dir and re-merge on changes")
	keepManifest := fs.Bool("keep-manifest", false, "keep the manifest file after a successful merge")
	debounce := fs.Duration("debounce", collect.DefaultDebounce, "quiet period before a watch re-merge")
	fs.Parse(args)

	inputs := fs.Args()

	modes := 0
	for _, set := range []bool{len(inputs) > 0, *manifest != "", *dir != "", *storePath != ""} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		usagef("collect: exactly one input is required: document args, -manifest, -dir, or -store")
	}
	if *outPath == "" {
		usagef("collect: -out is required")
	}
	if *watch && *dir == "" {
		usagef("collect: -watch requires -dir")
	}

	switch {
	case len(inputs) > 0:
		agg, err := collect.CollectFiles(inputs, *outPath)
		if err != nil {
			fatalf("%v", err)
		}
		reportAggregate(agg, *outPath)

	case *manifest != "":
		agg, err := collect.CollectManifest(*manifest, *outPath, *keepManifest)
		if err != nil {
			fatalf("%v", err)
		}
		reportAggregate(agg, *outPath)

	case *storePath != "":
		collectStore(*storePath, *outPath)

	case *dir != "":
		agg, err := collect.CollectDir(*dir, *outPath)
		if err != nil {
			fatalf("%v", err)
		}
		reportAggregate(agg, *outPath)
		if *watch {
			watchDir(*dir, *outPath, *debounce)
		}
	}
}

func reportAggregate(agg *document.Aggregate, out string) {
	fmt.Printf("merged %d runs -> %s\n", len(agg.Runs), out)
}

func collectStore(storePath, out string) {
	if _, err := os.Stat(storePath); err != nil {
		fatalf("no run store at %s", storePath)
	}
	st, err := store.Open(storePath)
	if err != nil {
		fatalf("%v", err)
	}
	defer st.Close()

	docs, err := st.Documents()
	if err != nil {
		fatalf("%v", err)
	}
	agg, err := collect.Merge(docs)
	if err != nil {
		fatalf("%v", err)
	}
	if err := collect.WriteAggregate(out, agg); err != nil {
		fatalf("%v", err)
	}
	reportAggregate(agg, out)
}

// watchDir re-merges the directory whenever its documents change, until
// interrupted. Merge failures are logged and watching continues; the next
// valid change produces a fresh aggregate.
func watchDir(dir, out string, debounce time.Duration) {
	w, err := collect.NewWatcher(dir, out, debounce)
	if err != nil {
		fatalf("%v", err)
	}
	if err := w.Start(); err != nil {
		fatalf("%v", err)
	}
	defer w.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("watching %s (Ctrl-C to stop)\n", dir)
	for {
		select {
		case res, ok := <-w.Results():
			if !ok {
				return
			}
			fmt.Printf("merged %d runs from %d documents -> %s\n",
				len(res.Aggregate.Runs), res.Inputs, out)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			logging.Error("watch merge failed", "error", err)
		case <-ctx.Done():
			return
		}
	}
}
