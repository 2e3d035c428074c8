// Copyright 2026 The Gyrid Server Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/Roel/Gyrid-server-sub000/lib/codec"
	"github.com/Roel/Gyrid-server-sub000/lib/forward"
	"github.com/Roel/Gyrid-server-sub000/lib/process"
	"github.com/Roel/Gyrid-server-sub000/lib/protocol"
	"github.com/Roel/Gyrid-server-sub000/lib/version"
)

const binary = "gyrid-cache"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(binary, err)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return process.Usage("usage: %s count|dump <file>", binary)
	}
	switch args[0] {
	case "--version", "version":
		version.Print(stdout, binary)
		return nil
	case "count":
		return count(args[1:], stdout)
	case "dump":
		return dump(args[1:], stdout)
	}
	return process.Usage("unknown command %q (want count or dump)", args[0])
}

func parse(flagSet *pflag.FlagSet, args []string) (string, error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return "", err
		}
		return "", process.Usage("%v", err)
	}
	if flagSet.NArg() != 1 {
		return "", process.Usage("%s: exactly one cache file expected", flagSet.Name())
	}
	return flagSet.Arg(0), nil
}

func count(args []string, stdout io.Writer) error {
	path, err := parse(pflag.NewFlagSet("count", pflag.ContinueOnError), args)
	if err != nil {
		return ignoreHelp(err)
	}
	records, err := forward.ReadRecords(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	fmt.Fprintln(stdout, len(records))
	return nil
}

func dump(args []string, stdout io.Writer) error {
	flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	limit := flagSet.IntP("limit", "n", 0, "print at most this many messages (0 for all)")
	path, err := parse(flagSet, args)
	if err != nil {
		return ignoreHelp(err)
	}
	records, err := forward.ReadRecords(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if *limit > 0 && len(records) > *limit {
		records = records[:*limit]
	}
	for i, record := range records {
		kind, checksum := "undecodable", "-"
		if message, err := protocol.Decode(record); err == nil {
			kind = message.Type.String()
			if sum, err := protocol.PayloadAckChecksum(record); err == nil {
				checksum = sum
			}
		}
		diagnostic, err := codec.Diagnose(record)
		if err != nil {
			diagnostic = fmt.Sprintf("<%d bytes: %v>", len(record), err)
		}
		fmt.Fprintf(stdout, "%d\t%s\t%s\n\t%s\n", i, kind, checksum, diagnostic)
	}
	return nil
}

func ignoreHelp(err error) error {
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}
