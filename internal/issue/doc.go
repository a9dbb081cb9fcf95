// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries the failed operation, the resource involved, and
// suggestions. The issue catalog maps classified update errors to Markdown
// remediation text rendered with glamour.
package issue
