// SPDX-License-Identifier: MPL-2.0

// Package version extracts ordered numeric tuples from free-form tag, branch,
// and release names and compares them.
//
// Parsing is best-effort. Forge tags are written by humans
// ("v1.2", "Release 1,2,3 beta", "latest"), so Parse reports an unparsable
// string through its boolean result instead of an error. A tag without a
// numeric run is never selected as an update.
package version

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/mod/semver"
)

const (
	// PrefixLess orders a strict prefix before its extension: (1,2) < (1,2,0).
	// This is plain lexicographic tuple ordering and is the default.
	PrefixLess PrefixPolicy = iota
	// PrefixZeroPad treats missing trailing elements as zero: (1,2) == (1,2,0).
	PrefixZeroPad
)

type (
	// Tuple is an ordered sequence of non-negative version components.
	// A nil or empty Tuple means "no version".
	Tuple []int

	// PrefixPolicy decides how tuples of unequal length compare when one is a
	// strict prefix of the other.
	PrefixPolicy int
)

// Parse extracts the leading numeric run of text.
//
// Any non-digit prefix ("v", "version ", "release-") is skipped. Components are
// separated by '.', ',' or whitespace; the run ends at the first character that
// is neither a digit nor a separator followed by a digit, so trailing
// qualifiers such as "beta" or "-rc.1" are ignored. Parse returns false when
// text contains no digits at all.
func Parse(text string) (Tuple, bool) {
	start := strings.IndexFunc(text, isDigit)
	if start < 0 {
		return nil, false
	}

	rest := text[start:]
	var out Tuple
	for {
		end := strings.IndexFunc(rest, func(r rune) bool { return !isDigit(r) })
		if end < 0 {
			end = len(rest)
		}
		n, err := strconv.Atoi(rest[:end])
		if err != nil {
			// Out of int range: keep what was read so far.
			break
		}
		out = append(out, n)
		rest = rest[end:]

		next := strings.IndexFunc(rest, func(r rune) bool { return !isSeparator(r) })
		if next <= 0 || !isDigit(rune(rest[next])) {
			break
		}
		rest = rest[next:]
	}

	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// MustParse is like Parse but panics when text has no numeric run. It is meant
// for constants and tests.
func MustParse(text string) Tuple {
	t, ok := Parse(text)
	if !ok {
		panic(fmt.Sprintf("version: no numeric run in %q", text))
	}
	return t
}

// Compare returns -1, 0 or +1 as a is less than, equal to, or greater than b
// under policy p. An empty tuple sorts before every non-empty tuple.
func Compare(a, b Tuple, p PrefixPolicy) int {
	shared := min(len(a), len(b))
	for i := range shared {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	if len(a) == len(b) {
		return 0
	}

	if p == PrefixZeroPad && len(a) > 0 && len(b) > 0 {
		longer, sign := a, 1
		if len(b) > len(a) {
			longer, sign = b, -1
		}
		for _, v := range longer[shared:] {
			if v > 0 {
				return sign
			}
		}
		return 0
	}

	if len(a) < len(b) {
		return -1
	}
	return 1
}

// Compare is the method form of the package-level Compare.
func (t Tuple) Compare(other Tuple, p PrefixPolicy) int {
	return Compare(t, other, p)
}

// IsZero reports whether t carries no version.
func (t Tuple) IsZero() bool {
	return len(t) == 0
}

// String renders t in dotted form ("1.2.3"); the empty tuple renders as "".
func (t Tuple) String() string {
	parts := make([]string, len(t))
	for i, v := range t {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

// String returns the policy name used in configuration files.
func (p PrefixPolicy) String() string {
	switch p {
	case PrefixLess:
		return "prefix-less"
	case PrefixZeroPad:
		return "zero-pad"
	}
	return fmt.Sprintf("PrefixPolicy(%d)", int(p))
}

// ParsePrefixPolicy parses a policy name produced by PrefixPolicy.String.
// The empty string selects PrefixLess.
func ParsePrefixPolicy(s string) (PrefixPolicy, error) {
	switch s {
	case "", "prefix-less":
		return PrefixLess, nil
	case "zero-pad":
		return PrefixZeroPad, nil
	}
	return PrefixLess, fmt.Errorf("unknown version prefix policy %q", s)
}

// IsPrerelease reports whether tag is a semantic version carrying a
// pre-release suffix ("v1.2.0-beta.1"). Tags that are not valid semver are
// never considered pre-releases.
func IsPrerelease(tag string) bool {
	norm := strings.TrimSpace(tag)
	if !strings.HasPrefix(norm, "v") {
		norm = "v" + norm
	}
	if !semver.IsValid(norm) {
		return false
	}
	return semver.Prerelease(norm) != ""
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isSeparator(r rune) bool {
	return r == '.' || r == ',' || unicode.IsSpace(r)
}
