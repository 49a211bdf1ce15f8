package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"

	"github.com/tinyrange/jitbridge/internal/demo"
	"github.com/tinyrange/jitbridge/internal/host"
	"github.com/tinyrange/jitbridge/internal/jit"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	configPath := fs.String("config", "", "YAML config file")
	message := fs.String("message", "", "Message embedded in the hello program")
	argList := fs.String("args", "", "Comma separated program arguments (up to 4)")
	repeat := fs.Int("repeat", 0, "Invoke the program this many extra times and check the result is stable")
	color := fs.String("color", "", "Style register names: auto, always or never")
	dump := fs.Bool("dump", false, "Print a hex dump of the finalized code")
	fortune := fs.String("fortune", "", "Run the fortune program with this command instead of hello")
	verbose := fs.Bool("v", false, "Enable debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Assemble a native program, call back into Go from it and print the result.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "message":
			cfg.Message = *message
		case "args":
			cfg.Args, flagErr = parseArgs(*argList)
		case "repeat":
			cfg.Repeat = *repeat
		case "color":
			cfg.Color = *color
		case "fortune":
			fields := strings.Fields(*fortune)
			if len(fields) == 0 {
				cfg.Fortune = nil
				return
			}
			fc := &FortuneConfig{Command: fields[0], Args: fields[1:]}
			if cfg.Fortune != nil {
				fc.Timeout = cfg.Fortune.Timeout
			}
			cfg.Fortune = fc
		}
	})
	if flagErr != nil {
		return flagErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	useColor := cfg.Color == "always" || (cfg.Color == "auto" && host.DetectColor(os.Stdout))
	formatter := host.NewFormatter(os.Stdout, useColor)
	formatter.SetLengthResult(cfg.LengthResult)

	symbols := jit.NewSymbolTable()
	if err := host.Register(symbols, formatter); err != nil {
		return fmt.Errorf("register host callbacks: %w", err)
	}

	var (
		buf     *jit.Buffer
		entry   jit.Offset
		command *host.Command
		err     error
	)
	if cfg.Fortune != nil {
		command = host.NewCommand(os.Stdout, cfg.Fortune.Command, cfg.Fortune.Args...)
		command.Timeout = cfg.Fortune.Timeout
		if err := host.RegisterCommand(symbols, command); err != nil {
			return fmt.Errorf("register command: %w", err)
		}
		buf, entry, err = demo.BuildFortune(symbols)
	} else {
		buf, entry, err = demo.BuildHello(cfg.Message, symbols)
	}
	if err != nil {
		return fmt.Errorf("build program: %w", err)
	}

	prog, err := jit.Finalize(buf, entry)
	if err != nil {
		return err
	}
	defer func() {
		if err := prog.Close(); err != nil {
			slog.Warn("close program", "error", err)
		}
	}()

	slog.Debug("program ready", "entry", fmt.Sprintf("%#x", prog.Entry()), "size", prog.Size(), "symbols", symbols.Names())

	if *dump {
		code, err := prog.Code()
		if err != nil {
			return fmt.Errorf("read program code: %w", err)
		}
		fmt.Print(hex.Dump(code))
	}

	a := cfg.Arguments()
	result := prog.Invoke(a[0], a[1], a[2], a[3])
	fmt.Printf("Program returned: %d\n", result)

	if cfg.Repeat > 0 {
		formatter.SetOutput(io.Discard)
		if command != nil {
			command.SetOutput(io.Discard)
		}
		if err := repeatInvoke(prog, a, cfg.Repeat, result); err != nil {
			return err
		}
	}

	return nil
}

// repeatInvoke runs prog n more times and fails on the first result that
// differs from want.
func repeatInvoke(prog *jit.Program, a [4]uint64, n int, want uint64) error {
	bar := progressbar.Default(int64(n), "invoke")
	defer bar.Close()

	for i := range n {
		if got := prog.Invoke(a[0], a[1], a[2], a[3]); got != want {
			return fmt.Errorf("invocation %d returned %d, want %d", i+1, got, want)
		}
		if err := bar.Add(1); err != nil {
			slog.Debug("update progress bar", "error", err)
		}
	}
	slog.Info("repeat complete", "invocations", n, "result", want)
	return nil
}

func parseArgs(s string) ([]uint64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) > 4 {
		return nil, fmt.Errorf("at most 4 program arguments, got %d", len(parts))
	}
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("parse argument %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}
