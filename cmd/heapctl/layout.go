// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLayoutCmd())
}

func newLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Print the heap layout constants",
		Long: `The layout command validates the heap layout and prints the
constants the code generator injects into the emitted allocator.

Example:
  heapctl layout
  heapctl layout --heap-size 1048576 --lowest-order 16
  heapctl layout --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd.OutOrStdout())
		},
	}
}

func runLayout(w io.Writer) error {
	l, err := layoutFromFlags()
	if err != nil {
		return err
	}
	consts := l.Constants()
	if jsonOut {
		return printJSON(w, consts)
	}
	names := make([]string, 0, len(consts))
	for name := range consts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s = %d\n", name, consts[name])
	}
	printVerbose(w, "lowest order units: %d\n", l.Units())
	return nil
}
