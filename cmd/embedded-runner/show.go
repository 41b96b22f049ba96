package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mhatzl/embedded-runner/internal/store"
)

func cmdShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	storePath := fs.String("store", "", "run store path")
	runID := fs.String("run-id", "", "print the full document of one run")
	fs.Parse(args)

	if *storePath == "" {
		usagef("show: -store is required")
	}
	if _, err := os.Stat(*storePath); err != nil {
		fatalf("no run store at %s", *storePath)
	}

	st, err := store.Open(*storePath)
	if err != nil {
		fatalf("%v", err)
	}
	defer st.Close()

	if *runID != "" {
		doc, err := st.Get(*runID)
		if err != nil {
			fatalf("%v", err)
		}
		if doc == nil {
			fatalf("run %q not in store", *runID)
		}
		data, err := doc.Encode()
		if err != nil {
			fatalf("%v", err)
		}
		os.Stdout.Write(data)
		return
	}

	infos, err := st.List()
	if err != nil {
		fatalf("%v", err)
	}
	if len(infos) == 0 {
		fmt.Println("store is empty")
		return
	}

	fmt.Printf("%-36s  %-20s  %-12s  %s\n", "RUN", "CREATED", "DIGEST", "BINARY")
	for _, info := range infos {
		fmt.Printf("%-36s  %-20s  %-12s  %s\n",
			info.RunID,
			info.CreatedAt.Format(time.RFC3339),
			info.Digest[:12],
			info.Binary)
	}
}
