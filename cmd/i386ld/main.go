// Command i386ld links 32-bit i386 COFF object files into a single PE32
// executable, resolving external symbols against each other and against
// a set of Windows DLLs.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xyproto/i386ld/internal/diag"
	"github.com/xyproto/i386ld/internal/dlloracle"
	"github.com/xyproto/i386ld/internal/link"
	"github.com/xyproto/i386ld/internal/objfile"
)

var defaultDLLs = []string{
	"kernel32.dll", "user32.dll", "shell32.dll", "msvcrt.dll", "gdi32.dll",
	"ole32.dll", "advapi32.dll", "comctl32.dll", "wsock32.dll", "mpr.dll",
}

// stringList accumulates repeatable -dll flags.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	d := diag.New(stderr)
	fs := flag.NewFlagSet("i386ld", flag.ContinueOnError)
	fs.SetOutput(io.Discard) // we print our own Error: lines

	opts := link.DefaultOptions()

	var (
		stackReserve, stackCommit, heapReserve, heapCommit string
		sectionAlign, fileAlign, base                      string
		entry                                              = fs.String("entry", opts.Entry, "entry point symbol")
		out                                                = fs.String("out", opts.Out, "output file path")
		subsystem                                          = fs.String("subsystem", "winCUI", "target subsystem")
		dllWarn                                            = fs.Bool("dllwarn", false, "warn on fuzzy DLL symbol resolution")
		help1                                              = fs.Bool("help", false, "show usage")
		help2                                              = fs.Bool("h", false, "show usage")
	)
	var dlls stringList
	fs.Var(&dlls, "dll", "additional DLL to search for imports (repeatable)")
	fs.StringVar(&stackReserve, "stackReserve", "", "stack reserve size")
	fs.StringVar(&stackCommit, "stackCommit", "", "stack commit size")
	fs.StringVar(&heapReserve, "heapReserve", "", "heap reserve size")
	fs.StringVar(&heapCommit, "heapCommit", "", "heap commit size")
	fs.StringVar(&sectionAlign, "sectionAllign", "", "section alignment")
	fs.StringVar(&fileAlign, "fileAllign", "", "file alignment")
	fs.StringVar(&base, "base", "", "image base")

	// "?" is a valid alias for -help per §6.3; flag can't register it
	// directly (it isn't a valid flag name on all platforms' shells),
	// so it's special-cased before parsing.
	for _, a := range args {
		if a == "?" {
			printUsage(stderr)
			return 0
		}
	}

	if err := fs.Parse(args); err != nil {
		d.Error("%v", err)
		return link.ExitCode(link.KindCLI)
	}
	if *help1 || *help2 {
		printUsage(stderr)
		return 0
	}

	for flagName, dst := range map[string]*uint32{
		"stackReserve": &opts.StackReserve, "stackCommit": &opts.StackCommit,
		"heapReserve": &opts.HeapReserve, "heapCommit": &opts.HeapCommit,
		"sectionAllign": &opts.SectionAlign, "fileAllign": &opts.FileAlign,
		"base": &opts.ImageBase,
	} {
		var raw string
		switch flagName {
		case "stackReserve":
			raw = stackReserve
		case "stackCommit":
			raw = stackCommit
		case "heapReserve":
			raw = heapReserve
		case "heapCommit":
			raw = heapCommit
		case "sectionAllign":
			raw = sectionAlign
		case "fileAllign":
			raw = fileAlign
		case "base":
			raw = base
		}
		if raw == "" {
			continue
		}
		v, err := parseUint(raw)
		if err != nil {
			d.Error("invalid integer for -%s: %v", flagName, err)
			return link.ExitCode(link.KindCLI)
		}
		*dst = v
	}

	sub, err := link.ParseSubsystem(*subsystem)
	if err != nil {
		d.Error("%v", err)
		return link.ExitCode(link.KindCLI)
	}
	opts.Subsystem = sub
	opts.Entry = *entry
	opts.Out = *out
	opts.DLLWarn = *dllWarn
	opts.DLLPaths = dlls

	objPaths := fs.Args()
	if len(objPaths) == 0 {
		d.Error("no object files given")
		return link.ExitCode(link.KindCLI)
	}

	oracle := dlloracle.New(d, opts.DLLWarn)
	for _, p := range defaultDLLs {
		oracle.Open(p)
	}
	for _, p := range opts.DLLPaths {
		oracle.Open(p)
	}
	defer oracle.Close()

	l := link.New(opts, d, oracle)
	for _, p := range objPaths {
		f, err := objfile.Read(p)
		if err != nil {
			d.Error("%v", err)
			var merr *objfile.ErrMalformed
			if asErrMalformed(err, &merr) {
				return link.ExitCode(link.KindMalformed)
			}
			return link.ExitCode(link.KindIO)
		}
		l.AddObject(f)
	}

	if err := l.Link(); err != nil {
		d.Error("%v", err)
		if le, ok := err.(*link.Error); ok {
			return link.ExitCode(le.Kind)
		}
		return link.ExitCode(link.KindResolution)
	}

	if err := l.WriteTo(opts.Out); err != nil {
		d.Error("%v", err)
		if le, ok := err.(*link.Error); ok {
			return link.ExitCode(le.Kind)
		}
		return link.ExitCode(link.KindWrite)
	}

	return 0
}

func asErrMalformed(err error, target **objfile.ErrMalformed) bool {
	for err != nil {
		if me, ok := err.(*objfile.ErrMalformed); ok {
			*target = me
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// parseUint accepts decimal and 0x-prefixed hexadecimal integers, per §6.3.
func parseUint(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `usage: i386ld [flags] object-file...

  -help, -h, ?          show this message
  -stackReserve N       stack reserve size (default 0x200000)
  -stackCommit N        stack commit size (default 0x1000)
  -heapReserve N        heap reserve size (default 0x100000)
  -heapCommit N         heap commit size (default 0x1000)
  -sectionAllign N       section alignment
  -fileAllign N          file alignment (default 0x200)
  -base N                image base (default 0x400000)
  -entry FUN             entry point symbol (default _main)
  -out PATH              output path (default a.exe)
  -subsystem STR         native, winBoot, winGUI, winCUI, winCE, posix,
                          os2, efiApp, efiBootDriver, efiRuntimeDriver, efiRom
  -dllwarn               report fuzzy DLL symbol resolution
  -dll PATH              additional DLL to search for imports (repeatable)

Integers accept a 0x prefix. Remaining positional arguments are object-file paths.`)
}
