// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

const (
	// ThemeDefault uses the default huh theme.
	ThemeDefault Theme = "default"
	// ThemeCharm uses the Charm theme.
	ThemeCharm Theme = "charm"
	// ThemeDracula uses the Dracula theme.
	ThemeDracula Theme = "dracula"
	// ThemeCatppuccin uses the Catppuccin theme.
	ThemeCatppuccin Theme = "catppuccin"
	// ThemeBase16 uses the Base16 theme.
	ThemeBase16 Theme = "base16"

	// NonInteractiveEnv disables prompts when set to any value.
	NonInteractiveEnv = "UPKEEP_NON_INTERACTIVE"
)

var (
	// ErrCancelled is returned when the user aborts a prompt.
	ErrCancelled = errors.New("user cancelled")
	// ErrInvalidTheme is the sentinel wrapped by InvalidThemeError.
	ErrInvalidTheme = errors.New("invalid theme")
)

type (
	// Theme represents the visual theme for prompts.
	Theme string

	// InvalidThemeError is returned when a Theme is not one of the known names.
	InvalidThemeError struct {
		Value Theme
	}

	// Config holds common configuration for prompts.
	Config struct {
		// Theme specifies the visual theme to use.
		Theme Theme
		// Accessible renders prompts as plain line-oriented questions.
		Accessible bool
		// Width of the form (0 for auto).
		Width int
		// Input is read for accessible prompts; nil means stdin.
		Input io.Reader
		// Output receives the prompt.
		Output io.Writer
	}
)

func (e *InvalidThemeError) Error() string {
	return fmt.Sprintf("invalid theme %q (valid: default, charm, dracula, catppuccin, base16)", string(e.Value))
}

func (e *InvalidThemeError) Unwrap() error { return ErrInvalidTheme }

// String returns the theme name.
func (t Theme) String() string { return string(t) }

// IsValid returns whether the Theme is one of the defined themes,
// and a list of validation errors if it is not.
func (t Theme) IsValid() (bool, []error) {
	switch t {
	case ThemeDefault, ThemeCharm, ThemeDracula, ThemeCatppuccin, ThemeBase16:
		return true, nil
	default:
		return false, []error{&InvalidThemeError{Value: t}}
	}
}

// DefaultConfig returns the configuration prompts use unless told otherwise.
// Accessible mode is enabled when stdin is not a terminal or the ACCESSIBLE
// environment variable is set; the prompt is then written to stderr so it is
// not captured by a pipe or command substitution.
func DefaultConfig() Config {
	accessible := !isInputTerminal() || os.Getenv("ACCESSIBLE") != ""

	var output io.Writer = os.Stdout
	if accessible {
		output = os.Stderr
	}
	return Config{
		Theme:      ThemeDefault,
		Accessible: accessible,
		Output:     output,
	}
}

// CanPrompt reports whether an interactive question may be asked at all.
// Prompts are refused when stdin is not a terminal or NonInteractiveEnv is set.
func CanPrompt() bool {
	return os.Getenv(NonInteractiveEnv) == "" && isInputTerminal()
}

// isInputTerminal returns true if stdin is connected to a terminal.
func isInputTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// huhTheme converts a Theme to a huh.Theme.
func huhTheme(t Theme) *huh.Theme {
	switch t {
	case ThemeCharm:
		return huh.ThemeCharm()
	case ThemeDracula:
		return huh.ThemeDracula()
	case ThemeCatppuccin:
		return huh.ThemeCatppuccin()
	case ThemeBase16:
		return huh.ThemeBase16()
	default:
		return huh.ThemeBase()
	}
}

// newForm wraps fields in a single-group form configured from cfg.
func newForm(cfg Config, fields ...huh.Field) *huh.Form {
	form := huh.NewForm(huh.NewGroup(fields...)).
		WithTheme(huhTheme(cfg.Theme)).
		WithAccessible(cfg.Accessible).
		WithShowHelp(false)
	if cfg.Width > 0 {
		form = form.WithWidth(cfg.Width)
	}
	if cfg.Input != nil {
		form = form.WithInput(cfg.Input)
	}
	if cfg.Output != nil {
		form = form.WithOutput(cfg.Output)
	}
	return form
}
