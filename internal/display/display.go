package display

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Service renders operator-facing status lines. Output degrades to plain
// text when stdout is not a terminal, when NO_COLOR is set, or when the
// terminal reports no color support.
type Service struct {
	out     io.Writer
	colored bool

	success *color.Color
	info    *color.Color
	warn    *color.Color
	failure *color.Color
}

// New creates a display service writing to stdout.
func New(noColor bool) *Service {
	return NewWithWriter(os.Stdout, noColor)
}

// NewWithWriter creates a display service with an explicit writer, used in
// tests.
func NewWithWriter(out io.Writer, noColor bool) *Service {
	colored := !noColor
	if colored {
		if f, ok := out.(*os.File); ok && !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
			colored = false
		}
		if os.Getenv("NO_COLOR") != "" {
			colored = false
		}
		if termenv.EnvColorProfile() == termenv.Ascii {
			colored = false
		}
	}

	s := &Service{
		out:     out,
		colored: colored,
		success: color.New(color.FgGreen),
		info:    color.New(color.FgCyan),
		warn:    color.New(color.FgYellow),
		failure: color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{s.success, s.info, s.warn, s.failure} {
		if !colored {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return s
}

// Success prints a completed-operation line.
func (s *Service) Success(format string, args ...interface{}) {
	fmt.Fprintln(s.out, s.success.Sprint("✓ ")+fmt.Sprintf(format, args...))
}

// Info prints a neutral status line.
func (s *Service) Info(format string, args ...interface{}) {
	fmt.Fprintln(s.out, s.info.Sprint("• ")+fmt.Sprintf(format, args...))
}

// Warn prints a warning line.
func (s *Service) Warn(format string, args ...interface{}) {
	fmt.Fprintln(s.out, s.warn.Sprint("! ")+fmt.Sprintf(format, args...))
}

// Error prints a failure line.
func (s *Service) Error(format string, args ...interface{}) {
	fmt.Fprintln(s.out, s.failure.Sprint("✗ ")+fmt.Sprintf(format, args...))
}

// Row prints an aligned listing row.
func (s *Service) Row(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format+"\n", args...)
}

// Colored reports whether color output is active.
func (s *Service) Colored() bool {
	return s.colored
}
