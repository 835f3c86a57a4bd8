package kernel

import (
	"fmt"
	"io"
	"os"
)

// Console wraps an io.Writer the way the teacher's KernelPrint wraps
// stdout: a single indirection point so boot banners and demo trace
// output can be redirected in tests instead of hard-coding os.Stdout.
type Console struct {
	out io.Writer
}

// NewConsole returns a Console writing to w. A nil w defaults to
// os.Stdout.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}

	return &Console{out: w}
}

// Printf is the KernelPrint equivalent: formatted output with no
// implicit trailing newline, leaving call sites in control of layout
// exactly as the teacher's banner code does.
func (c *Console) Printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// Println writes one line.
func (c *Console) Println(args ...any) {
	fmt.Fprintln(c.out, args...)
}
