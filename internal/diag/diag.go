// Package diag implements the linker's human-readable diagnostic channel.
package diag

import (
	"fmt"
	"io"
	"os"
)

// Sink collects Error/Warning lines. Tests inject a buffer; the CLI
// defaults to os.Stderr.
type Sink struct {
	w io.Writer
}

// New returns a Sink writing to w. A nil w defaults to os.Stderr.
func New(w io.Writer) *Sink {
	if w == nil {
		w = os.Stderr
	}
	return &Sink{w: w}
}

func (s *Sink) Error(format string, args ...any) {
	fmt.Fprintf(s.w, "Error: "+format+"\n", args...)
}

func (s *Sink) Warning(format string, args ...any) {
	fmt.Fprintf(s.w, "Warning: "+format+"\n", args...)
}
