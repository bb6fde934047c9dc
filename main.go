/* Copyright (C) 2022 Nicolas Peugnet <n.peugnet@free.fr>

   This file is part of xdstream.

   xdstream is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   xdstream is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with xdstream.  If not, see <https://www.gnu.org/licenses/>. */

package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/n-peugnet/xdstream/delta"
	"github.com/n-peugnet/xdstream/logger"
	"github.com/n-peugnet/xdstream/stream"
)

type command struct {
	Flag  *flag.FlagSet
	Run   func([]string) error
	Usage string
	Help  string
}

const (
	name      = "xdstream"
	baseUsage = "<command> [<options>] [--] <args>"
)

var (
	logLevel   int
	winSize    int
	maxWinSize int
	codecName  string
	secondary  bool
)

var diff = command{flag.NewFlagSet("diff", flag.ExitOnError), diffMain,
	"[<options>] [--] <source> <target> <patch>",
	"Encode the difference of <target> against <source> into <patch>",
}
var patch = command{flag.NewFlagSet("patch", flag.ExitOnError), patchMain,
	"[<options>] [--] <source> <patch> <target>",
	"Reconstruct <target> by applying <patch> to <source>",
}
var subcommands = map[string]command{
	diff.Flag.Name():  diff,
	patch.Flag.Name(): patch,
}

func init() {
	// init default help message
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s %s\n\ncommands:\n", name, baseUsage)
		for _, s := range subcommands {
			fmt.Printf("  %s	%s\n", s.Flag.Name(), s.Help)
		}
		os.Exit(1)
	}
	// setup subcommands
	for _, s := range subcommands {
		s.Flag.IntVar(&logLevel, "v", 3, "log verbosity level (0-4)")
		s.Flag.IntVar(&winSize, "w", 0, "bytes of input processed per window")
		s.Flag.IntVar(&maxWinSize, "B", 0, "byte budget of the source block window")
		s.Flag.StringVar(&codecName, "c", "fdelta", "delta codec (fdelta, bsdiff, binarydist)")
		s.Flag.BoolVar(&secondary, "S", true, "compress window payloads when it pays off")
	}
}

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
	}
	cmd, exists := subcommands[args[0]]
	if !exists {
		fmt.Fprintf(flag.CommandLine.Output(), "error: unknown command %s\n\n", args[0])
		flag.Usage()
	}
	cmd.Flag.Usage = func() {
		fmt.Fprintf(cmd.Flag.Output(), "usage: %s %s %s\n\noptions:\n", name, cmd.Flag.Name(), cmd.Usage)
		cmd.Flag.PrintDefaults()
		os.Exit(1)
	}
	cmd.Flag.Parse(args[1:])
	logger.Init(logLevel)
	if err := cmd.Run(cmd.Flag.Args()); err != nil {
		fmt.Fprintf(cmd.Flag.Output(), "error: %s\n\n", err)
		cmd.Flag.Usage()
	}
}

func options() (stream.Options, error) {
	codec, err := delta.ByName(codecName)
	if err != nil {
		return stream.Options{}, err
	}
	return stream.Options{
		WinSize:    winSize,
		MaxWinSize: maxWinSize,
		Codec:      codec,
		Secondary:  secondary,
	}, nil
}

// openIn opens path for reading, with "-" meaning stdin.
func openIn(path string) (io.ReadCloser, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}

// openOut opens path for writing, with "-" meaning stdout.
func openOut(path string) (io.WriteCloser, error) {
	if path == "-" {
		return os.Stdout, nil
	}
	return os.Create(path)
}

func runCommand(args []string, op func(stream.Options, io.Reader, io.Reader, io.Writer) error) error {
	if len(args) != 3 {
		return fmt.Errorf("wrong number of args")
	}
	o, err := options()
	if err != nil {
		return err
	}
	source, err := openIn(args[0])
	if err != nil {
		return err
	}
	defer source.Close()
	input, err := openIn(args[1])
	if err != nil {
		return err
	}
	defer input.Close()
	output, err := openOut(args[2])
	if err != nil {
		return err
	}
	if err := op(o, input, source, output); err != nil {
		output.Close()
		return err
	}
	return output.Close()
}

func diffMain(args []string) error {
	return runCommand(args, stream.EncodeOptions)
}

func patchMain(args []string) error {
	return runCommand(args, stream.DecodeOptions)
}
