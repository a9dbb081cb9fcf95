// SPDX-License-Identifier: MPL-2.0

package staging

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/invowk/upkeep/internal/fault"
)

// ErrBadPattern is returned for malformed glob patterns.
var ErrBadPattern = errors.New("invalid glob pattern")

// ValidatePatterns checks that every pattern is a well-formed doublestar glob.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fault.Configuration("validate patterns", fmt.Errorf("%w: %q", ErrBadPattern, p))
		}
	}
	return nil
}

// matchAny reports whether rel (an OS path relative to a tree root) matches
// one of patterns. A pattern without a slash also matches the base name, so
// "*.pyc" catches files at any depth.
func matchAny(patterns []string, rel string) bool {
	slashed := filepath.ToSlash(rel)
	base := path.Base(slashed)
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, slashed); err == nil && ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, err := doublestar.Match(p, base); err == nil && ok {
				return true
			}
		}
	}
	return false
}
