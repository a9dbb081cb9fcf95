// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the CLI commands for upkeep.
//
// Each command loads configuration, builds an updater.Engine for the
// configured component, and drives one engine operation: check, stage,
// apply, restore, backup management, status, and ignore.
package cmd
