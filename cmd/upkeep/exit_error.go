// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/internal/fetch"
	"github.com/invowk/upkeep/internal/issue"
	"github.com/invowk/upkeep/pkg/types"
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code types.ExitCode
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// classifyExitCode maps an engine error to the process exit code.
// A partially updated install gets its own code; network trouble is
// transient; everything else is for the user to fix.
func classifyExitCode(err error) types.ExitCode {
	switch {
	case err == nil:
		return types.ExitSuccess
	case fault.IsPartial(err):
		return types.ExitPartial
	case errors.Is(err, fs.ErrPermission):
		return types.ExitFailure
	case fetch.IsRateLimited(err), fault.KindOf(err) == fault.KindNetwork:
		return types.ExitTransient
	default:
		return types.ExitFailure
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// renderIssue writes the guidance matching err, if any, to w.
func renderIssue(w io.Writer, err error, stylePath string) {
	is := issue.ForError(err)
	if is == nil {
		return
	}
	rendered, renderErr := is.Render(stylePath)
	if renderErr != nil {
		return
	}
	fmt.Fprint(w, rendered)
}
