// SPDX-License-Identifier: MPL-2.0

// Package output writes command results as text, JSON, or YAML.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

type (
	// Format represents an output format.
	Format string

	// TextWriter is implemented by values with a custom text rendering.
	TextWriter interface {
		WriteText(w io.Writer) error
	}

	// Writer handles output in the specified format.
	Writer struct {
		format Format
		w      io.Writer
	}
)

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, format Format) *Writer {
	return &Writer{format: format, w: w}
}

// Format returns the writer's format.
func (w *Writer) Format() Format {
	return w.format
}

// Write outputs v in the configured format. Text output prefers TextWriter,
// then fmt.Stringer, then %+v.
func (w *Writer) Write(v any) error {
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		switch t := v.(type) {
		case TextWriter:
			return t.WriteText(w.w)
		case fmt.Stringer:
			_, err := fmt.Fprintln(w.w, t.String())
			return err
		}
		_, err := fmt.Fprintf(w.w, "%+v\n", v)
		return err
	}
}

// ParseFormat parses a format string into a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format: %s", s)
	}
}
