package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/safewater/frcnet/pipeline"
)

func main() {
	jsonOut := flag.Bool("json", false, "Emit the full dataset report as JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <path-to-survey>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	report, err := pipeline.Describe(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "describe failed: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			fmt.Fprintf(os.Stderr, "json encode failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println(report.Notes)
}
