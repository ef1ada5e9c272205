package ui

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"

	"github.com/heliod-dev/heliod/pkg/errors"
)

// Format selects how command output is rendered.
type Format int

const (
	// FormatAuto picks terminal or text output from the destination's
	// capabilities.
	FormatAuto Format = iota
	// FormatTerminal renders styled output for interactive use.
	FormatTerminal
	// FormatText renders plain text, safe for pipes and logs.
	FormatText
	// FormatJSON renders machine readable output.
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatTerminal:
		return "term"
	case FormatText:
		return "text"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat reads a format name as given on the command line.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return FormatAuto, nil
	case "term", "terminal":
		return FormatTerminal, nil
	case "text", "plain":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatAuto, errors.Newf(errors.ErrInvalidInput, "unknown output format %q", s)
	}
}

// Detect resolves FormatAuto against the actual output destination.
// Anything that is not an interactive color-capable terminal gets plain
// text, including NO_COLOR environments and non-file writers.
func Detect(output io.Writer) Format {
	if os.Getenv("NO_COLOR") != "" {
		return FormatText
	}
	file, ok := output.(*os.File)
	if !ok {
		return FormatText
	}
	if !isatty.IsTerminal(file.Fd()) && !isatty.IsCygwinTerminal(file.Fd()) {
		return FormatText
	}
	if termenv.ColorProfile() == termenv.Ascii {
		return FormatText
	}
	return FormatTerminal
}

// resolve maps FormatAuto to a concrete format for output.
func resolve(format Format, output io.Writer) Format {
	if format == FormatAuto {
		return Detect(output)
	}
	return format
}
