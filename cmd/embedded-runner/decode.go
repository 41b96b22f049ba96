package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mhatzl/embedded-runner/internal/capture"
	"github.com/mhatzl/embedded-runner/internal/pipeline"
	"github.com/mhatzl/embedded-runner/internal/symbols"
	"github.com/mhatzl/embedded-runner/pkg/formats"
)

func cmdDecode(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	configPath := fs.String("config", "", "runner config file (default: searched)")
	capturePath := fs.String("capture", "", "recorded capture archive to replay")
	symbolsPath := fs.String("symbols", "", "ELF test binary or JSON symbol table")
	runID := fs.String("run-id", "", "run id (default: random)")
	metaPath := fs.String("meta", "", "metadata JSON attached to the document")
	outPath := fs.String("out", "", "document output file (default: stdout)")
	fs.Parse(args)

	if *capturePath == "" || *symbolsPath == "" {
		usagef("decode: -capture and -symbols are required")
	}

	cfg := loadConfig(*configPath)

	table, err := symbols.Load(*symbolsPath)
	if err != nil {
		fatalf("%v", err)
	}

	r, err := capture.Open(*capturePath)
	if err != nil {
		fatalf("%v", err)
	}
	defer r.Close()

	var meta []byte
	var metaOrigin string
	if *metaPath != "" {
		meta, err = os.ReadFile(*metaPath)
		if err != nil {
			fatalf("reading metadata: %v", err)
		}
		metaOrigin = *metaPath
	}

	doc, err := pipeline.Run(context.Background(), r, table, pipeline.Options{
		RunID:          *runID,
		MaxFrameSize:   cfg.FrameMax,
		External:       meta,
		ExternalTag:    formats.TagRunMetaJSON,
		ExternalOrigin: metaOrigin,
	})
	if err != nil {
		fatalf("%v", err)
	}

	data, err := doc.Encode()
	if err != nil {
		fatalf("%v", err)
	}
	if *outPath == "" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(*outPath, data, 0644); err != nil {
		fatalf("writing document: %v", err)
	}
	fmt.Printf("run %s: %d tests, %d evidence entries -> %s\n",
		doc.RunID, len(doc.Outcomes), len(doc.Evidence), *outPath)
}
