// SPDX-License-Identifier: MPL-2.0

// Package testutil provides test helpers shared across upkeep packages:
// a controllable clock, in-memory release archives, and filesystem setup
// that fails the test on error.
package testutil
