// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/mattbasta/btype-sub001/heap"
)

var (
	// Global flags
	verbose     bool
	jsonOut     bool
	heapSize    uint32
	lowestOrder uint32
)

var jsonConfig = jsoniter.Config{
	EscapeHTML:             false,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

var rootCmd = &cobra.Command{
	Use:   "heapctl",
	Short: "Inspect the runtime heap layout and replay allocation traces",
	Long: `heapctl prints the memory layout constants injected into generated
programs and replays allocation traces against the buddy or chain
allocator, reporting every result and the final heap usage.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		Uint32Var(&heapSize, "heap-size", heap.DefaultLayout.HeapSize, "HEAP_SIZE in bytes (power of two)")
	rootCmd.PersistentFlags().
		Uint32Var(&lowestOrder, "lowest-order", heap.DefaultLayout.LowestOrder, "LOWEST_ORDER in bytes (power of two)")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// layoutFromFlags returns the validated layout given on the command line.
func layoutFromFlags() (heap.Layout, error) {
	l := heap.Layout{HeapSize: heapSize, LowestOrder: lowestOrder}
	if err := l.Validate(); err != nil {
		return l, err
	}
	return l, nil
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(w io.Writer, format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(w, format, args...)
	}
}

// printJSON outputs data as indented JSON
func printJSON(w io.Writer, v interface{}) error {
	enc := jsonConfig.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
