package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mhatzl/embedded-runner/internal/document"
	"github.com/mhatzl/embedded-runner/internal/store"
)

func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	docPath := fs.String("doc", "", "coverage document to validate")
	aggregate := fs.Bool("aggregate", false, "validate an aggregate document instead")
	digest := fs.String("digest", "", "expected hex blake2b-256 digest of the file")
	fs.Parse(args)

	if *docPath == "" {
		usagef("verify: -doc is required")
	}

	data, err := os.ReadFile(*docPath)
	if err != nil {
		fatalf("%v", err)
	}

	if *aggregate {
		err = document.ValidateAggregate(data)
	} else {
		err = document.ValidateCoverage(data)
	}
	if err != nil {
		fatalf("%s: %v", *docPath, err)
	}

	if *digest != "" {
		got := store.Digest(data)
		if !strings.EqualFold(got, *digest) {
			fatalf("%s: digest mismatch: file has %s", *docPath, got)
		}
	}

	fmt.Printf("%s: ok\n", *docPath)
}
