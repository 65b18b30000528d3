// jit68k loads a flat m68k guest memory image, runs it through the
// translator/cache/dispatcher pipeline, and optionally drops into a
// single-step debug REPL instead of free-running it — the CLI shape of
// the teacher's cmd/ie32to64 (flag.FlagSet, Usage, os.Exit(1) on error),
// with the debugger loop's raw single-keystroke read style taken from
// terminal_host.go's golang.org/x/term usage.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/m68kjit/m68kjit/internal/cache"
	"github.com/m68kjit/m68kjit/internal/config"
	"github.com/m68kjit/m68kjit/internal/dispatch"
	"github.com/m68kjit/m68kjit/internal/guest"
	"github.com/m68kjit/m68kjit/internal/hostcache"
)

func main() {
	imagePath := flag.String("image", "", "Path to a flat m68k guest memory image (required)")
	loadAddr := parseUint32Flag("load", 0, "Guest address the image is loaded at")
	entryPC := parseUint32Flag("entry", 0, "Guest PC execution begins at")
	vbr := parseUint32Flag("vbr", 0, "Initial vector base register")
	memSize := flag.Int("memsize", 1<<24, "Guest address space size in bytes")
	confPath := flag.String("config", "", "Path to a TOML config file (defaults used if absent)")
	debug := flag.Bool("debug", false, "Drop into a single-step debug REPL instead of free-running")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jit68k -image program.bin [options]\n\n")
		fmt.Fprintf(os.Stderr, "Translates and runs a flat m68k guest memory image.\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jit68k -image loop.bin -entry 0x1000\n")
		fmt.Fprintf(os.Stderr, "  jit68k -image loop.bin -entry 0x1000 -debug\n")
	}
	flag.Parse()

	if *imagePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	program, err := os.ReadFile(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading %s: %v\n", *imagePath, err)
		os.Exit(1)
	}

	mem := guest.NewFlatMemory(*memSize)
	mem.LoadProgram(*loadAddr, program)

	c, err := cache.New(cache.Options{
		Capacity:           cfg.Cache.Capacity,
		MaxTuBytes:         cfg.Cache.MaxTuBytes,
		SoftFlush:          cfg.Cache.SoftFlush,
		SoftFlushThreshold: cfg.Cache.SoftFlushThreshold,
	}, hostcache.New())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building cache: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	state := &guest.State{PC: *entryPC, VBR: *vbr}
	eng := dispatch.NewEngine(state, mem, c, cfg.Execution.MaxInstructionsPerBlock, dispatch.NewInvoker())

	if *debug {
		runDebugREPL(eng)
		return
	}

	if err := eng.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseUint32Flag registers a hex-or-decimal uint32 flag (accepting "0x"
// prefixes the way a guest address is usually written) and returns a
// pointer flag.Parse fills in.
func parseUint32Flag(name string, def uint32, usage string) *uint32 {
	v := new(uint32)
	flag.Func(name, fmt.Sprintf("%s (default %#x)", usage, def), func(s string) error {
		n, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return fmt.Errorf("invalid address %q: %w", s, err)
		}
		*v = uint32(n)
		return nil
	})
	*v = def
	return v
}

// runDebugREPL drives the engine one translation unit at a time from
// operator commands typed at a plain line prompt. It puts the terminal in
// raw mode only for the duration of a single keystroke read when the
// operator asks to single-step repeatedly with a bare Enter, mirroring
// terminal_host.go's MakeRaw/Restore bracketing rather than holding the
// whole session in raw mode.
func runDebugREPL(eng *dispatch.Engine) {
	fmt.Println("jit68k debug REPL — commands: s[tep], r[un], regs, pc, q[uit]")
	reader := bufio.NewScanner(os.Stdin)

	for {
		fmt.Printf("(jit68k) pc=%#08x> ", eng.State.PC)
		if !reader.Scan() {
			return
		}
		cmd := strings.TrimSpace(reader.Text())

		switch {
		case cmd == "" || cmd == "s" || cmd == "step":
			if err := eng.Step(); err != nil {
				fmt.Fprintf(os.Stderr, "step error: %v\n", err)
				return
			}
		case cmd == "r" || cmd == "run":
			if err := eng.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "run error: %v\n", err)
			}
			return
		case cmd == "regs":
			printRegs(eng)
		case cmd == "pc":
			fmt.Printf("pc=%#08x\n", eng.State.PC)
		case cmd == "q" || cmd == "quit":
			return
		case cmd == "raw":
			stepRawKeystroke(eng)
		default:
			fmt.Printf("unknown command %q\n", cmd)
		}
	}
}

// stepRawKeystroke puts stdin in raw mode for exactly one keystroke so the
// operator can hold a key to single-step without pressing Enter each time,
// then restores the previous terminal state before returning.
func stepRawKeystroke(eng *dispatch.Engine) {
	fd := int(os.Stdin.Fd())
	old, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "raw mode unavailable: %v\n", err)
		return
	}
	defer term.Restore(fd, old)

	fmt.Print("\r\npress any key to step, q to stop\r\n")
	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			return
		}
		if buf[0] == 'q' {
			return
		}
		if err := eng.Step(); err != nil {
			fmt.Fprintf(os.Stderr, "\r\nstep error: %v\r\n", err)
			return
		}
		fmt.Printf("\r\npc=%#08x\r\n", eng.State.PC)
	}
}

func printRegs(eng *dispatch.Engine) {
	s := eng.State
	for i := 0; i < 8; i++ {
		fmt.Printf("D%d=%#08x  A%d=%#08x\n", i, s.D[i], i, s.A[i])
	}
	fmt.Printf("PC=%#08x  SR=%#04x  VBR=%#08x\n", s.PC, s.SR, s.VBR)
}
