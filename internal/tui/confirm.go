// SPDX-License-Identifier: MPL-2.0

package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
)

type (
	// ConfirmOptions configures the Confirm component.
	ConfirmOptions struct {
		// Title is the question to display.
		Title string
		// Description provides additional context below the title.
		Description string
		// Affirmative is the text for the affirmative option (default: "Yes").
		Affirmative string
		// Negative is the text for the negative option (default: "No").
		Negative string
		// Default is the initially selected answer.
		Default bool
		// Config holds common prompt configuration.
		Config Config
	}

	// ConfirmBuilder provides a fluent API for building Confirm prompts.
	ConfirmBuilder struct {
		opts ConfirmOptions
	}
)

// Confirm asks a yes/no question and returns the answer.
// Returns ErrCancelled if the user aborted the prompt.
func Confirm(ctx context.Context, opts ConfirmOptions) (bool, error) {
	if opts.Affirmative == "" {
		opts.Affirmative = "Yes"
	}
	if opts.Negative == "" {
		opts.Negative = "No"
	}

	answer := opts.Default
	field := huh.NewConfirm().
		Title(opts.Title).
		Affirmative(opts.Affirmative).
		Negative(opts.Negative).
		Value(&answer)
	if opts.Description != "" {
		field = field.Description(opts.Description)
	}

	if err := newForm(opts.Config, field).RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, ErrCancelled
		}
		return false, fmt.Errorf("confirm prompt: %w", err)
	}
	return answer, nil
}

// NewConfirm starts a ConfirmBuilder with DefaultConfig.
func NewConfirm() *ConfirmBuilder {
	return &ConfirmBuilder{opts: ConfirmOptions{Config: DefaultConfig()}}
}

// Title sets the question.
func (b *ConfirmBuilder) Title(title string) *ConfirmBuilder {
	b.opts.Title = title
	return b
}

// Description sets the text shown below the title.
func (b *ConfirmBuilder) Description(desc string) *ConfirmBuilder {
	b.opts.Description = desc
	return b
}

// Affirmative sets the label of the "yes" answer.
func (b *ConfirmBuilder) Affirmative(text string) *ConfirmBuilder {
	b.opts.Affirmative = text
	return b
}

// Negative sets the label of the "no" answer.
func (b *ConfirmBuilder) Negative(text string) *ConfirmBuilder {
	b.opts.Negative = text
	return b
}

// Default sets the initially selected answer.
func (b *ConfirmBuilder) Default(v bool) *ConfirmBuilder {
	b.opts.Default = v
	return b
}

// Theme sets the visual theme.
func (b *ConfirmBuilder) Theme(t Theme) *ConfirmBuilder {
	b.opts.Config.Theme = t
	return b
}

// Accessible forces or disables accessible mode.
func (b *ConfirmBuilder) Accessible(v bool) *ConfirmBuilder {
	b.opts.Config.Accessible = v
	return b
}

// Options returns the options built so far.
func (b *ConfirmBuilder) Options() ConfirmOptions {
	return b.opts
}

// Run displays the prompt.
func (b *ConfirmBuilder) Run(ctx context.Context) (bool, error) {
	return Confirm(ctx, b.opts)
}
