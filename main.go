//go:build !js

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"ledvm/pkg/asm"
	"ledvm/pkg/isa"
	"ledvm/pkg/pixels"
	"ledvm/pkg/runner"
	"ledvm/pkg/vm"
)

func main() {
	inPath := flag.String("in", "", "input assembly file path")
	outPath := flag.String("out", "", "output binary file path (default: input with .bin extension)")
	runProgram := flag.Bool("run", false, "run the generated binary file on the VM")
	runBinPath := flag.String("run-bin", "", "run an existing binary file on the VM")
	disasmPath := flag.String("disasm", "", "print a listing of an existing binary file")
	maxSteps := flag.Uint64("max-steps", 10_000_000, "stop a run after this many instructions (0 for no limit)")
	numPixels := flag.Int("pixels", pixels.DefaultLength, "length of the simulated LED strip")
	cols := flag.Int("cols", 0, "fold the strip into rows of this many LEDs for -png")
	pngPath := flag.String("png", "", "write the last shown frame to this PNG file")
	debug := flag.Bool("debug", false, "trace every instruction")
	verbosity := flag.Int("v", 0, "log verbosity")
	flag.Parse()

	if *debug && *verbosity < 2 {
		*verbosity = 2
	}
	commonlog.Configure(*verbosity, nil)

	if *runProgram && *runBinPath != "" {
		fmt.Fprintln(os.Stderr, "use either -run or -run-bin, not both")
		os.Exit(2)
	}

	if *disasmPath != "" {
		if err := disassemble(*disasmPath); err != nil {
			fmt.Fprintf(os.Stderr, "disassembly failed for %q: %v\n", *disasmPath, err)
			os.Exit(1)
		}
		if *inPath == "" && *runBinPath == "" {
			return
		}
	}

	assembledOutput := ""
	var sourceMap asm.SourceMap
	if *inPath != "" {
		source, err := os.ReadFile(*inPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read input file %q: %v\n", *inPath, err)
			os.Exit(1)
		}

		code, sm, err := asm.Assemble(string(source))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: assembly failed: %v\n", *inPath, err)
			os.Exit(1)
		}
		sourceMap = sm

		output := *outPath
		if output == "" {
			output = defaultOutputPath(*inPath)
		}

		if err := writeBinary(output, code); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write binary file %q: %v\n", output, err)
			os.Exit(1)
		}

		fmt.Printf("assembled %d bytes -> %s\n", len(code), output)
		assembledOutput = output
	}

	if *inPath == "" && *runBinPath == "" && !*runProgram {
		fmt.Fprintln(os.Stderr, "nothing to do: provide -in to assemble, -run to run assembled output, -run-bin <file> to run an existing binary or -disasm <file> to list one")
		flag.Usage()
		os.Exit(2)
	}

	runTarget := ""
	switch {
	case *runBinPath != "":
		runTarget = *runBinPath
		sourceMap = nil
	case *runProgram:
		if assembledOutput == "" {
			fmt.Fprintln(os.Stderr, "-run requires -in, or use -run-bin <file>")
			os.Exit(2)
		}
		runTarget = assembledOutput
	default:
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := runOptions{
		maxSteps:  *maxSteps,
		pixels:    *numPixels,
		layout:    pixels.Layout{Cols: *cols},
		pngPath:   *pngPath,
		debug:     *debug,
		sourceMap: sourceMap,
	}
	if err := runBinary(ctx, runTarget, opts); err != nil {
		fmt.Fprintf(os.Stderr, "run failed for %q: %v\n", runTarget, err)
		os.Exit(1)
	}
}

type runOptions struct {
	maxSteps  uint64
	pixels    int
	layout    pixels.Layout
	pngPath   string
	debug     bool
	sourceMap asm.SourceMap
}

func defaultOutputPath(inPath string) string {
	ext := filepath.Ext(inPath)
	if ext == "" {
		return inPath + ".bin"
	}
	return strings.TrimSuffix(inPath, ext) + ".bin"
}

func writeBinary(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

func readBinary(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > isa.MaxProgramSize {
		return nil, fmt.Errorf("program too large: %d bytes > %d bytes", len(data), isa.MaxProgramSize)
	}
	return data, nil
}

func disassemble(path string) error {
	code, err := readBinary(path)
	if err != nil {
		return err
	}
	listing, err := isa.Disassemble(code)
	for _, d := range listing {
		fmt.Println(d)
	}
	return err
}

func runBinary(ctx context.Context, path string, opts runOptions) error {
	code, err := readBinary(path)
	if err != nil {
		return err
	}

	strip := pixels.New(opts.pixels)
	var last []vm.Color
	strip.OnShow(func(frame []vm.Color) { last = frame })

	prog := &vm.Program{Name: filepath.Base(path), Code: code}
	m, runErr := runner.RunProgram(ctx, runner.NewBridge(strip, 0), prog, runner.Options{
		MaxSteps: opts.maxSteps,
		Debug:    opts.debug,
	}, vm.WithOutput(os.Stdout))

	fmt.Printf("run %s (%s): %s\n", m.State(), path, describe(m, opts.sourceMap))

	if opts.pngPath != "" && last != nil {
		if err := pixels.SaveFrame(opts.pngPath, last, opts.layout, 8); err != nil {
			return fmt.Errorf("writing %s: %w", opts.pngPath, err)
		}
		fmt.Printf("wrote frame %d -> %s\n", strip.Frames(), opts.pngPath)
	}

	var f *vm.Fault
	if errors.As(runErr, &f) {
		if line, ok := opts.sourceMap[uint16(f.PC)]; ok {
			return fmt.Errorf("%w (source line %d)", runErr, line)
		}
	}
	return runErr
}

func describe(m *vm.VM, sm asm.SourceMap) string {
	s := fmt.Sprintf("PC=0x%04X steps=%d depth=%d", m.PC(), m.Steps(), m.Depth())
	if top, ok := m.Top(); ok {
		s += " top=" + top.String()
	}
	if line, ok := sm[uint16(m.PC())]; ok {
		s += fmt.Sprintf(" line=%d", line)
	}
	return s
}
