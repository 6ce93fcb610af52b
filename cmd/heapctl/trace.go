// Copyright 2021 The btype Authors. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mattbasta/btype-sub001/alloc"
	"github.com/mattbasta/btype-sub001/memory"
)

var (
	errBadOp   = errors.New("unknown operation")
	errBadArgs = errors.New("bad arguments")
	errBadRef  = errors.New("bad result reference")
)

var (
	traceStrategy    string
	traceMapped      bool
	traceIterative   bool
	traceForwardOnly bool
	traceCheck       bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "trace [file]",
		Short: "Replay an allocation trace",
		Long: `The trace command replays allocation operations against a fresh heap
and prints the result of each one followed by the final heap usage.

The trace is read from the file argument or from stdin. It is either one
operation per line or a JSON array of {"op": ..., "args": [...]} objects.
An argument of the form $k refers to the result of operation k (0 based).

Operations:
  malloc SIZE        calloc SIZE        free $k
  new SHAPE SIZE     ref $k             deref $k        get $k
  funcref ID $k      method ID $k       release $k

Example:
  printf 'new 1 16\nfuncref 4 $0\nderef $0\nrelease $1\n' | heapctl trace
  heapctl trace ops.json --strategy chain --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return runTrace(r, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&traceStrategy, "strategy", "s", "buddy", "Allocator strategy (buddy, chain)")
	cmd.Flags().BoolVar(&traceMapped, "mapped", false, "Back the heap with an anonymous mapping")
	cmd.Flags().BoolVar(&traceIterative, "iterative", false, "Use the stack based buddy search")
	cmd.Flags().BoolVar(&traceForwardOnly, "forward-only", false, "Join chain blocks only with their successor")
	cmd.Flags().BoolVar(&traceCheck, "check", false, "Verify the allocator bookkeeping after each operation")
	rootCmd.AddCommand(cmd)
}

// traceOp is one operation of a trace.
type traceOp struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func (o traceOp) String() string {
	if len(o.Args) == 0 {
		return o.Op
	}
	return o.Op + " " + strings.Join(o.Args, " ")
}

// traceStep is the outcome of a replayed operation.
type traceStep struct {
	Op     string   `json:"op"`
	Args   []string `json:"args,omitempty"`
	Result uint32   `json:"result"`
}

type traceReport struct {
	Strategy  string      `json:"strategy"`
	Layout    string      `json:"layout"`
	Steps     []traceStep `json:"steps"`
	Used      uint64      `json:"used"`
	RealUsed  uint64      `json:"real_used"`
	MaxUsed   uint64      `json:"max_real_used"`
	Available uint64      `json:"available"`
}

// parseTrace reads a JSON array trace or a line based one.
func parseTrace(r io.Reader) ([]traceOp, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '[' {
		var ops []traceOp
		if err := jsonConfig.Unmarshal(t, &ops); err != nil {
			return nil, fmt.Errorf("failed to parse JSON trace: %w", err)
		}
		for i := range ops {
			ops[i].Op = strings.ToLower(ops[i].Op)
		}
		return ops, nil
	}
	var ops []traceOp
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		ops = append(ops, traceOp{Op: strings.ToLower(f[0]), Args: f[1:]})
	}
	return ops, sc.Err()
}

// tracer replays operations on a Memory, remembering every result.
type tracer struct {
	m       *memory.Memory
	results []uint32
	check   bool
}

func (t *tracer) num(a string) (uint32, error) {
	v, err := strconv.ParseUint(a, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errBadArgs, a)
	}
	return uint32(v), nil
}

func (t *tracer) ref(a string) (alloc.Ptr, error) {
	if !strings.HasPrefix(a, "$") {
		return 0, fmt.Errorf("%w: %q", errBadRef, a)
	}
	k, err := strconv.Atoi(a[1:])
	if err != nil || k < 0 || k >= len(t.results) {
		return 0, fmt.Errorf("%w: %q", errBadRef, a)
	}
	return alloc.Ptr(t.results[k]), nil
}

// args parses the arguments of op: the leading ones are numbers, the
// trailing nrefs ones are result references.
func (t *tracer) args(op traceOp, nnums, nrefs int) ([]uint32, []alloc.Ptr, error) {
	if len(op.Args) != nnums+nrefs {
		return nil, nil, fmt.Errorf("%w: %s wants %d arguments", errBadArgs, op.Op, nnums+nrefs)
	}
	nums := make([]uint32, nnums)
	refs := make([]alloc.Ptr, nrefs)
	for i := range nums {
		v, err := t.num(op.Args[i])
		if err != nil {
			return nil, nil, err
		}
		nums[i] = v
	}
	for i := range refs {
		p, err := t.ref(op.Args[nnums+i])
		if err != nil {
			return nil, nil, err
		}
		refs[i] = p
	}
	return nums, refs, nil
}

func (t *tracer) step(op traceOp) (uint32, error) {
	var nnums, nrefs int
	switch op.Op {
	case "malloc", "calloc":
		nnums = 1
	case "new":
		nnums = 2
	case "free", "ref", "deref", "get", "release":
		nrefs = 1
	case "funcref", "method":
		nnums, nrefs = 1, 1
	default:
		return 0, fmt.Errorf("%w: %q", errBadOp, op.Op)
	}
	nums, refs, err := t.args(op, nnums, nrefs)
	if err != nil {
		return 0, err
	}
	m := t.m
	switch op.Op {
	case "malloc":
		return uint32(m.Malloc(nums[0])), nil
	case "calloc":
		return uint32(m.Calloc(nums[0])), nil
	case "new":
		return uint32(m.New(nums[0], nums[1])), nil
	case "free":
		m.Free(refs[0])
	case "ref":
		return uint32(m.Ref(refs[0])), nil
	case "deref":
		m.Deref(refs[0])
	case "get":
		return m.Get(refs[0]), nil
	case "release":
		m.ReleaseBox(refs[0])
	case "funcref":
		return uint32(m.GetFuncRef(nums[0], refs[0])), nil
	case "method":
		return uint32(m.GetBoundMethod(nums[0], refs[0])), nil
	}
	return 0, nil
}

// run replays ops and returns the steps done so far, stopping at the
// first bad operation.
func (t *tracer) run(ops []traceOp) ([]traceStep, error) {
	steps := make([]traceStep, 0, len(ops))
	for i, op := range ops {
		res, err := t.step(op)
		if err != nil {
			return steps, fmt.Errorf("op %d (%s): %w", i, op, err)
		}
		t.results = append(t.results, res)
		steps = append(steps, traceStep{Op: op.Op, Args: op.Args, Result: res})
		if t.check {
			if err := t.m.Check(); err != nil {
				return steps, fmt.Errorf("op %d (%s): %w", i, op, err)
			}
		}
	}
	return steps, nil
}

func traceConfig() (memory.Config, error) {
	l, err := layoutFromFlags()
	if err != nil {
		return memory.Config{}, err
	}
	s, err := memory.ParseStrategy(traceStrategy)
	if err != nil {
		return memory.Config{}, err
	}
	return memory.Config{
		Strategy:    s,
		Layout:      l,
		Mapped:      traceMapped,
		Debug:       verbose,
		Iterative:   traceIterative,
		ForwardOnly: traceForwardOnly,
	}, nil
}

func runTrace(r io.Reader, w io.Writer) error {
	cfg, err := traceConfig()
	if err != nil {
		return err
	}
	ops, err := parseTrace(r)
	if err != nil {
		return err
	}
	m, err := memory.New(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	t := &tracer{m: m, check: traceCheck}
	steps, err := t.run(ops)
	if err != nil {
		return err
	}
	st := m.Stats()
	rep := traceReport{
		Strategy:  cfg.Strategy.String(),
		Layout:    cfg.Layout.String(),
		Steps:     steps,
		Used:      st.Used,
		RealUsed:  st.RealUsed,
		MaxUsed:   st.MaxRealUsed,
		Available: m.Available(),
	}
	if jsonOut {
		return printJSON(w, rep)
	}
	printVerbose(w, "%s allocator, %s\n", rep.Strategy, rep.Layout)
	for i, s := range steps {
		fmt.Fprintf(w, "%4d  %-24s = %d\n", i, traceOp{Op: s.Op, Args: s.Args}, s.Result)
	}
	fmt.Fprintf(w, "used %d real %d max %d available %d\n",
		rep.Used, rep.RealUsed, rep.MaxUsed, rep.Available)
	return nil
}
