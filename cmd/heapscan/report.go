// ABOUTME: Report printing and config decoding for the heapscan command
// ABOUTME: Colors headings and failures when writing to a terminal

package main

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"github.com/prateek/heapscan/gc"
	"github.com/prateek/heapscan/graph"
	"github.com/prateek/heapscan/heap"
	"github.com/prateek/heapscan/snapshot"
)

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
)

func decodeConfig(r io.Reader) (fileConfig, error) {
	cfg := fileConfig{GC: gc.DefaultConfig(), Heap: heap.DefaultConfig()}
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, err
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Heap.Validate(); err != nil {
		return cfg, err
	}
	if cfg.GC.Workers < 0 {
		return cfg, fmt.Errorf("gc.workers must not be negative, got %d", cfg.GC.Workers)
	}
	return cfg, nil
}

type reporter struct {
	w     io.Writer
	color bool
}

func (r reporter) style(code, s string) string {
	if !r.color {
		return s
	}
	return code + s + ansiReset
}

func (r reporter) heading(s string) {
	fmt.Fprintln(r.w, r.style(ansiBold, s))
}

func (r reporter) summary(img *snapshot.Image, res *gc.Result) {
	r.heading("Marking")
	fmt.Fprintf(r.w, "  objects:     %d of %d marked (%v)\n",
		res.Marked, img.Heap.NumObjects(), heap.Size(res.MarkedBytes))
	fmt.Fprintf(r.w, "  scanned:     %d classes, %d arrays, %d others\n",
		res.Counts.Classes, res.Counts.Arrays, res.Counts.Others)
	fmt.Fprintf(r.w, "  references:  %d cleared, %d finalizable\n",
		len(res.Cleared), len(res.Finalizable))
	fmt.Fprintf(r.w, "  duration:    %v\n", res.Duration)
	r.heading("Spaces")
	img.Heap.DumpSpaces(r.w)
}

func (r reporter) verify(errs []gc.VerifyError) {
	r.heading("Verification")
	if len(errs) == 0 {
		fmt.Fprintln(r.w, " ", r.style(ansiGreen, "ok"))
		return
	}
	for _, e := range errs {
		fmt.Fprintln(r.w, " ", r.style(ansiRed, e.Error()))
	}
}

func (r reporter) paths(g graph.Graph, id graph.ObjID, max int) {
	target := g.GetObject(id)
	if target == nil {
		r.heading(fmt.Sprintf("Paths to roots for %#x", uint64(id)))
		fmt.Fprintln(r.w, " ", r.style(ansiRed, "not marked"))
		return
	}
	r.heading(fmt.Sprintf("Paths to roots for %#x (%s)", uint64(id), target.Type))
	idom := graph.Dominators(g)
	if size, ok := graph.RetainedSizeSubsets(g, []graph.ObjID{id})[id]; ok {
		fmt.Fprintf(r.w, "  retains %v\n", heap.Size(size))
	}
	if chain := graph.DominatorPath(idom, id); len(chain) > 2 {
		fmt.Fprintf(r.w, "  kept alive by %#x (%s)\n", uint64(chain[1]), g.GetObject(chain[1]).Type)
	}
	paths := graph.PathsToRoots(g, id, max)
	if len(paths) == 0 {
		fmt.Fprintln(r.w, "  no path to a root")
		return
	}
	for i, p := range paths {
		fmt.Fprintf(r.w, "  #%d\n", i+1)
		for j, step := range p.Steps {
			obj := g.GetObject(step.ID)
			fmt.Fprintf(r.w, "    %#x %s", uint64(step.ID), obj.Type)
			if j < len(p.Steps)-1 {
				kind := "field"
				if step.Static {
					kind = "static"
				}
				fmt.Fprintf(r.w, "  <- %s @%d", kind, step.Offset)
			}
			fmt.Fprintln(r.w)
		}
	}
}

func (r reporter) retainers(top []graph.Retainer) {
	r.heading("Top retainers")
	for _, rt := range top {
		fmt.Fprintf(r.w, "  %10v  %#x %s\n", heap.Size(rt.Retained), uint64(rt.ID), rt.Type)
	}
}
