// SPDX-License-Identifier: MPL-2.0

// Package tui holds the interactive prompts the CLI shows before changing an
// install, built on charmbracelet/huh forms.
package tui
