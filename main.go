// Copyright 2023 The Firefly Authors.
//
// Use of this source code is governed by a BSD 3-clause
// license that can be found in the LICENSE file.

// Command armframe lowers the stack frames of ARM functions
// and inspects the results.
//
// Functions are described in TOML or YAML files, chosen by
// the file extension. Each function lists its basic blocks
// as machine instructions, plus its stack objects and the
// ABI it is lowered for.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"firefly-os.dev/tools/armframe/cmd/layout"
	"firefly-os.dev/tools/armframe/cmd/lower"
	"firefly-os.dev/tools/armframe/cmd/order"
)

func init() {
	log.SetFlags(0)
	log.SetOutput(os.Stderr)
	log.SetPrefix("")
}

// tool is one of the subcommands.
type tool struct {
	name  string
	args  string // Summary of the arguments.
	brief string
	main  func(ctx context.Context, w io.Writer, args []string) error
}

// tools is kept in the order the subcommands are listed
// in the usage message.
var tools = []tool{
	{"lower", "[-abi NAME] [-fp] [-o FILE] [-watch] FILE", "lower each described function and print its listing", lower.Main},
	{"layout", "[-abi NAME] [-fp] FILE", "print the frame layout of each described function", layout.Main},
	{"order", "[-abi NAME] [-class CLASS] [-hint KIND] [REG]", "print the allocation order of a register class", order.Main},
}

var errUsage = errors.New("usage")

func findTool(name string) *tool {
	for i := range tools {
		if tools[i].name == name {
			return &tools[i]
		}
	}

	return nil
}

func usage(w io.Writer, program string) {
	fmt.Fprintf(w, "Usage:\n  %s TOOL [OPTIONS] [ARGS]\n\n", program)
	fmt.Fprintf(w, "Tools:\n")
	for _, t := range tools {
		fmt.Fprintf(w, "  %s %s\n        %s\n", t.name, t.args, t.brief)
	}

	fmt.Fprintf(w, "\nFunction descriptions are read from .toml, .yaml, or .yml files.\n")
	fmt.Fprintf(w, "Run '%s TOOL -h' for a tool's options.\n", program)
}

// run runs the tool named by args[0]. It returns errUsage
// if no known tool is named.
func run(ctx context.Context, stdout, stderr io.Writer, program string, args []string) error {
	flags := flag.NewFlagSet(program, flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { usage(stderr, program) }

	var help bool
	flags.BoolVar(&help, "h", false, "Show this message and exit.")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}

	args = flags.Args()
	if help || len(args) == 0 {
		flags.Usage()
		return errUsage
	}

	t := findTool(args[0])
	if t == nil {
		fmt.Fprintf(stderr, "unknown tool %q\n\n", args[0])
		flags.Usage()
		return errUsage
	}

	log.SetPrefix(t.name + ": ")

	return t.main(ctx, stdout, args[1:])
}

func main() {
	program := "armframe"
	if len(os.Args) > 0 {
		program = filepath.Base(os.Args[0])
	}

	err := run(context.Background(), os.Stdout, os.Stderr, program, os.Args[1:])
	if errors.Is(err, errUsage) {
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}
