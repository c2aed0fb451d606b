package maincmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mna/mainer"

	"github.com/felinelang/feline/internal/config"
	"github.com/felinelang/feline/lang/compiler"
	"github.com/felinelang/feline/lang/ffi"
	"github.com/felinelang/feline/lang/machine"
)

const binName = "feline"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <path>
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <path>
       %[1]s -h|--help
       %[1]s -v|--version

Compiler and virtual machine for the %[1]s programming language.

<path> is a source file (extension .fn) to compile and run.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.

Configuration beyond these flags (GC stress mode, instruction tracing,
module search roots) is read from FELINE_* environment variables and an
optional feline.yaml project file; see internal/config.
`, binName)
)

// Cmd is Feline's single-command entry point: compile and run one source
// file, mapping every failure mode onto spec.md §6's exit codes rather than
// mainer's generic Success/Failure pair.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	args []string
}

func (c *Cmd) SetArgs(args []string)      { c.args = args }
func (c *Cmd) SetFlags(_ map[string]bool) {}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}
	if len(c.args) != 1 {
		return fmt.Errorf("exactly one source file path is required")
	}
	return nil
}

// exitCode mirrors spec.md §6's CLI exit codes: 0 success, 2 compile error,
// 4 runtime error, 1 usage error or I/O error.
type exitCode int

const (
	exitSuccess    exitCode = 0
	exitUsageOrIO  exitCode = 1
	exitCompileErr exitCode = 2
	exitRuntimeErr exitCode = 4
)

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   false,
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.ExitCode(exitUsageOrIO)
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.ExitCode(exitSuccess)
	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.ExitCode(exitSuccess)
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	return mainer.ExitCode(runFile(ctx, stdio, c.args[0]))
}

// runFile loads cfg from the source file's directory, compiles and runs it,
// and returns the spec.md §6 exit code for the outcome.
func runFile(ctx context.Context, stdio mainer.Stdio, path string) exitCode {
	dir := filepath.Dir(path)
	cfg, err := config.Load(dir)
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "feline: reading configuration: %s\n", err)
		return exitUsageOrIO
	}

	if cfg.LibExt != "" {
		ffi.Ext = cfg.LibExt
	}

	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "feline: %s\n", err)
		return exitUsageOrIO
	}

	fn, err := compiler.Compile(source, path)
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return exitCompileErr
	}

	vm := machine.New(cfg.VMConfig())
	vm.Ctx = ctx
	if err := vm.RunCompiled(fn, path, dir); err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return exitRuntimeErr
	}
	return exitSuccess
}
