// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "apply update"},
			expected: "failed to apply update",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "apply update", Resource: "/opt/tool"},
			expected: "failed to apply update: /opt/tool",
		},
		{
			name:     "operation with cause",
			err:      &ActionableError{Operation: "load configuration", Cause: errors.New("syntax error")},
			expected: "failed to load configuration: syntax error",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "restore backup",
				Resource:  "/opt/tool",
				Cause:     errors.New("no backups"),
			},
			expected: "failed to restore backup: /opt/tool: no backups",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_ErrorsIs(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("sentinel")
	err := WrapWithContext(sentinel, "stage update", "v2.0.0")
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should find the cause")
	}
	if WrapWithOperation(nil, "x") != nil || WrapWithContext(nil, "x", "y") != nil {
		t.Error("wrapping nil should yield nil")
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	inner := errors.New("connection refused")
	err := NewErrorContext().
		WithOperation("check for update").
		WithResource("github:acme/tool").
		WithSuggestion("Check your network").
		WithSuggestions("Set GITHUB_TOKEN", "Retry later").
		Wrap(errorWrapper{inner}).
		Build()

	plain := err.Format(false)
	for _, want := range []string{"failed to check for update: github:acme/tool", "• Check your network", "• Retry later"} {
		if !strings.Contains(plain, want) {
			t.Errorf("Format(false) missing %q:\n%s", want, plain)
		}
	}
	if strings.Contains(plain, "Error chain") {
		t.Error("Format(false) should not print the chain")
	}

	verbose := err.Format(true)
	if !strings.Contains(verbose, "Error chain:") || !strings.Contains(verbose, "2. connection refused") {
		t.Errorf("Format(true) missing chain:\n%s", verbose)
	}
	if !err.HasSuggestions() {
		t.Error("HasSuggestions() = false")
	}
}

func TestErrorContext_BuildRequiresOperation(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("x").Build() != nil {
		t.Error("Build() without operation should return nil")
	}
	if err := NewErrorContext().BuildError(); err != nil {
		t.Errorf("BuildError() = %v, want nil interface", err)
	}
}

func TestErrorContext_BuildCopiesSuggestions(t *testing.T) {
	t.Parallel()

	ctx := NewErrorContext().WithOperation("prune backups").WithSuggestion("first")
	a := ctx.Build()
	ctx.WithSuggestion("second")
	if len(a.Suggestions) != 1 {
		t.Errorf("earlier build changed: %v", a.Suggestions)
	}
}

type errorWrapper struct{ err error }

func (w errorWrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w errorWrapper) Unwrap() error { return w.err }
