// SPDX-License-Identifier: MPL-2.0

// Package platform holds OS name constants and the Windows file naming
// rules that archive extraction has to honor.
package platform
