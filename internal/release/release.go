// SPDX-License-Identifier: MPL-2.0

// Package release models the refs a forge offers as install candidates and
// chooses the one to install.
package release

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/internal/forge"
	"github.com/invowk/upkeep/internal/version"
)

const (
	// SourceTags marks a candidate from the forge's tag listing.
	SourceTags Source = "tags"
	// SourceReleases marks a candidate from the forge's release listing.
	SourceReleases Source = "releases"
	// SourceBranch marks a configured branch name.
	SourceBranch Source = "branch"
)

type (
	// Source records which listing a candidate came from.
	Source string

	// Candidate is one installable ref. Version is nil for branches and for
	// tags whose name has no numeric run; such tags are never selected.
	Candidate struct {
		Name       string        `json:"name" yaml:"name" toml:"name"`
		Version    version.Tuple `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
		ArchiveURL string        `json:"archive_url" yaml:"archive_url" toml:"archive_url"`
		IsBranch   bool          `json:"is_branch,omitempty" yaml:"is_branch,omitempty" toml:"is_branch,omitempty"`
		Prerelease bool          `json:"prerelease,omitempty" yaml:"prerelease,omitempty" toml:"prerelease,omitempty"`
		Source     Source        `json:"source" yaml:"source" toml:"source"`
	}

	// Policy constrains selection. The zero Policy accepts every stable
	// version greater than the current one.
	Policy struct {
		// IncludeBranches makes the first branch candidate the fallback when
		// no version qualifies.
		IncludeBranches bool
		// UseReleasesOnly restricts selection to release-listing candidates.
		UseReleasesOnly bool
		// Min is the inclusive lower bound; nil means unbounded.
		Min version.Tuple
		// Max is the exclusive upper bound; nil means unbounded.
		Max version.Tuple
		// Constraint is an optional range such as ">= 1.2, < 3".
		Constraint goversion.Constraints
		// AllowPrerelease admits candidates flagged as pre-releases.
		AllowPrerelease bool
		// Prefix decides how versions of unequal length compare.
		Prefix version.PrefixPolicy
		// Skip, when set, rejects individual candidates (ignored versions).
		Skip func(Candidate) bool
	}
)

// ParseConstraint parses a version range; the empty string yields nil.
func ParseConstraint(s string) (goversion.Constraints, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	c, err := goversion.NewConstraint(s)
	if err != nil {
		return nil, fault.Configuration("parse version constraint", err)
	}
	return c, nil
}

// Build turns forge refs into candidates. The configured branch names come
// first, followed by refs in forge order.
func Build(refs []forge.Ref, source Source, branches []string, e forge.Engine, c forge.Coordinates) []Candidate {
	out := make([]Candidate, 0, len(branches)+len(refs))
	for _, b := range branches {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		out = append(out, Candidate{
			Name:       b,
			ArchiveURL: e.ArchiveURL(c, b),
			IsBranch:   true,
			Source:     SourceBranch,
		})
	}
	for _, r := range refs {
		v, _ := version.Parse(r.Name)
		out = append(out, Candidate{
			Name:       r.Name,
			Version:    v,
			ArchiveURL: r.ArchiveURL,
			Prerelease: r.Prerelease || version.IsPrerelease(r.Name),
			Source:     source,
		})
	}
	return out
}

// Select returns the greatest candidate strictly newer than current that the
// policy admits. Ties keep the earlier candidate. When nothing qualifies and
// branches are included, the first branch in list order is returned. An empty
// current version admits every versioned candidate.
func Select(candidates []Candidate, current version.Tuple, p Policy) (Candidate, bool) {
	var (
		best  Candidate
		found bool
	)
	for _, c := range candidates {
		if !p.admits(c) {
			continue
		}
		if version.Compare(c.Version, current, p.Prefix) <= 0 {
			continue
		}
		if !found || version.Compare(c.Version, best.Version, p.Prefix) > 0 {
			best, found = c, true
		}
	}
	if found {
		return best, true
	}

	if p.IncludeBranches {
		for _, c := range candidates {
			if c.IsBranch && (p.Skip == nil || !p.Skip(c)) {
				return c, true
			}
		}
	}
	return Candidate{}, false
}

// Find returns the candidate named name. A leading "v" is ignored on both
// sides, so "1.2" finds "v1.2".
func Find(candidates []Candidate, name string) (Candidate, bool) {
	for _, c := range candidates {
		if c.Name == name {
			return c, true
		}
	}
	bare := strings.TrimPrefix(name, "v")
	for _, c := range candidates {
		if strings.TrimPrefix(c.Name, "v") == bare {
			return c, true
		}
	}
	return Candidate{}, false
}

// String renders the candidate for logs and prompts.
func (c Candidate) String() string {
	if c.IsBranch {
		return fmt.Sprintf("%s (branch)", c.Name)
	}
	return c.Name
}

func (p Policy) admits(c Candidate) bool {
	if c.IsBranch || c.Version.IsZero() {
		return false
	}
	if p.UseReleasesOnly && c.Source != SourceReleases {
		return false
	}
	if c.Prerelease && !p.AllowPrerelease {
		return false
	}
	if !p.Min.IsZero() && version.Compare(c.Version, p.Min, p.Prefix) < 0 {
		return false
	}
	if !p.Max.IsZero() && version.Compare(c.Version, p.Max, p.Prefix) >= 0 {
		return false
	}
	if p.Constraint != nil {
		gv, err := goversion.NewVersion(c.Version.String())
		if err != nil || !p.Constraint.Check(gv) {
			return false
		}
	}
	if p.Skip != nil && p.Skip(c) {
		return false
	}
	return true
}
