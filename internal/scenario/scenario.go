// Package scenario scripts integration-level exercises of dispatch.Engine
// in Lua, giving the seed scenarios (§8 A-F) and any scenario an engineer
// adds later a data-driven home instead of being hand-coded per case in Go.
// Repurposes github.com/yuin/gopher-lua, already in the teacher's go.mod to
// script chip behaviour there, to script translator test scenarios instead.
package scenario

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/m68kjit/m68kjit/internal/cache"
	"github.com/m68kjit/m68kjit/internal/dispatch"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostcache"
)

// Options configures the engine a scenario runs against.
type Options struct {
	MemSize            int
	CacheCapacity      int
	MaxTuBytes         int
	MaxInsnsPerBlock   int
	SoftFlush          bool
	SoftFlushThreshold int
	Invoker            dispatch.Invoker // nil uses dispatch.NewInvoker()
}

func (o Options) withDefaults() Options {
	if o.MemSize <= 0 {
		o.MemSize = 1 << 20
	}
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = 64
	}
	if o.MaxTuBytes <= 0 {
		o.MaxTuBytes = 4096
	}
	return o
}

func build(opts Options) (*lua.LState, *dispatch.Engine, func(), error) {
	opts = opts.withDefaults()

	mem := guest.NewFlatMemory(opts.MemSize)
	c, err := cache.New(cache.Options{
		Capacity:           opts.CacheCapacity,
		MaxTuBytes:         opts.MaxTuBytes,
		SoftFlush:          opts.SoftFlush,
		SoftFlushThreshold: opts.SoftFlushThreshold,
	}, hostcache.New())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("scenario: building cache: %w", err)
	}

	inv := opts.Invoker
	if inv == nil {
		inv = dispatch.NewInvoker()
	}
	state := &guest.State{}
	eng := dispatch.NewEngine(state, mem, c, opts.MaxInsnsPerBlock, inv)

	L := lua.NewState()
	bind(L, eng, mem)

	cleanup := func() {
		L.Close()
		c.Close()
	}
	return L, eng, cleanup, nil
}

// Run loads and executes the Lua scenario script at path against a fresh
// dispatch.Engine. The script drives the engine entirely through the m68k
// table bind installs; a Lua runtime error (including one raised by an
// expect_* assertion helper) surfaces as a non-nil error.
func Run(path string, opts Options) error {
	L, _, cleanup, err := build(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := L.DoFile(path); err != nil {
		return fmt.Errorf("scenario: running %s: %w", path, err)
	}
	return nil
}

// RunString is Run's in-memory counterpart, for scenarios authored inline
// (tests, or a future embed.FS of built-in scripts) rather than read from
// disk.
func RunString(script string, opts Options) error {
	L, _, cleanup, err := build(opts)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := L.DoString(script); err != nil {
		return fmt.Errorf("scenario: running script: %w", err)
	}
	return nil
}
