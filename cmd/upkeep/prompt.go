// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"

	"github.com/invowk/upkeep/internal/tui"
)

// errNoTerminal is returned when confirmation is needed but nobody can answer.
var errNoTerminal = errors.New("confirmation required but stdin is not a terminal; pass --yes")

// terminalPrompter asks through a huh form on the controlling terminal.
type terminalPrompter struct{}

func (terminalPrompter) Confirm(ctx context.Context, title, description string) (bool, error) {
	if !tui.CanPrompt() {
		return false, errNoTerminal
	}
	return tui.NewConfirm().
		Title(title).
		Description(description).
		Run(ctx)
}

// confirm asks unless yes is set. A cancelled prompt is a "no".
func (a *App) confirm(ctx context.Context, yes bool, title, description string) (bool, error) {
	if yes {
		return true, nil
	}
	ok, err := a.Prompt.Confirm(ctx, title, description)
	if errors.Is(err, tui.ErrCancelled) {
		return false, nil
	}
	return ok, err
}
