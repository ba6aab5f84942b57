// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Package lower implements the armframe lower subcommand,
// which performs frame lowering on described functions.
package lower

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/docker/go-units"

	"firefly-os.dev/tools/armframe/frame"
	"firefly-os.dev/tools/armframe/framerec"
	"firefly-os.dev/tools/armframe/internal/driver"
	"firefly-os.dev/tools/armframe/internal/watch"
	"firefly-os.dev/tools/armframe/sys"
)

var program = filepath.Base(os.Args[0])

// Main lowers the functions in a description file and
// prints the result.
func Main(ctx context.Context, w io.Writer, args []string) error {
	flags := flag.NewFlagSet("lower", flag.ExitOnError)

	var (
		help    bool
		debug   bool
		trace   bool
		rewatch bool
		output  string
		abi     *sys.ABI
	)

	cfg := frame.ConfigFromEnv()
	flags.BoolVar(&help, "h", false, "Show this message and exit.")
	flags.BoolVar(&debug, "debug", false, "Print the frame objects and layout of each function.")
	flags.BoolVar(&trace, "trace", false, "Print each stage of lowering to stderr.")
	flags.BoolVar(&rewatch, "watch", false, "Lower the functions again each time the file changes.")
	flags.StringVar(&output, "o", "", "Write the frame records to this file.")
	workers := flags.Int("j", runtime.GOMAXPROCS(0), "The number of functions to lower in parallel.")
	driver.ABIFlag(flags, &abi)
	driver.ConfigFlags(flags, &cfg)

	flags.Usage = func() {
		log.Printf("Usage:\n  %s %s [OPTIONS] FILE\n\n", program, flags.Name())
		flags.PrintDefaults()
		os.Exit(2)
	}

	err := flags.Parse(args)
	if err != nil || help {
		flags.Usage()
	}

	filenames := flags.Args()
	if len(filenames) != 1 {
		flags.Usage()
	}

	if trace {
		cfg.Trace = os.Stderr
	}

	name := filenames[0]
	opts := driver.Options{ABI: abi, Config: cfg, Workers: *workers}
	run := func() error {
		lowered, err := driver.LowerFile(ctx, name, opts)
		if err != nil {
			return err
		}

		return writeListings(w, lowered, debug, output)
	}

	if !rewatch {
		return run()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	watcher, err := watch.New()
	if err != nil {
		return err
	}

	defer watcher.Close()
	if err := watcher.Add(name); err != nil {
		return err
	}

	if err := run(); err != nil {
		log.Print(err)
	}

	return watcher.Run(ctx, func(path string) {
		fmt.Fprintf(w, "\n%s changed\n", name)
		if err := run(); err != nil {
			log.Print(err)
		}
	})
}

// writeListings writes the listing of each lowered function to
// w, and the frame records to output, if it is set.
func writeListings(w io.Writer, lowered []*driver.Lowered, debug bool, output string) error {
	recs := make([]*framerec.Record, 0, len(lowered))
	for i, l := range lowered {
		fn := l.Function
		if i > 0 {
			fmt.Fprintln(w)
		}

		fmt.Fprintf(w, "; %s: %s frame, %s of code\n", fn.Name,
			units.BytesSize(float64(fn.Frame.StackSize)), units.BytesSize(float64(fn.Size())))
		io.WriteString(w, fn.Print())
		if debug {
			io.WriteString(w, fn.Frame.Debug())
			io.WriteString(w, fn.Layout.Debug())
		}

		if output == "" {
			continue
		}

		rec, err := framerec.FromFunction(l.Target, fn)
		if err != nil {
			return err
		}

		recs = append(recs, rec)
	}

	if output == "" {
		return nil
	}

	var buf bytes.Buffer
	if err := framerec.Encode(&buf, recs); err != nil {
		return err
	}

	if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write frame records: %v", err)
	}

	return nil
}
