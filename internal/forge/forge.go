// SPDX-License-Identifier: MPL-2.0

// Package forge turns repository coordinates into API and archive URLs for
// the supported code forges and normalizes their heterogeneous tag and release
// listings into one uniform Ref sequence.
//
// Engines are stateless values. Adding a forge means adding one Engine
// implementation and one case in For; call sites never switch on Kind.
package forge

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/invowk/upkeep/internal/fault"
)

const (
	// KindGitHub selects the GitHub REST API.
	KindGitHub Kind = "github"
	// KindGitLab selects the GitLab v4 REST API.
	KindGitLab Kind = "gitlab"
	// KindBitbucket selects the Bitbucket Cloud 2.0 REST API.
	KindBitbucket Kind = "bitbucket"
)

var (
	// ErrUnknownKind is returned for a forge kind with no engine.
	ErrUnknownKind = errors.New("unsupported forge kind")
	// ErrMissingRepository is returned when user or repo is empty.
	ErrMissingRepository = errors.New("repository user and name are required")
)

type (
	// Kind names a supported forge.
	Kind string

	// Coordinates identify one repository on one forge.
	Coordinates struct {
		Kind Kind
		// User is the owning user or organization (GitLab: namespace).
		User string
		// Repo is the repository name. For GitLab it may also be the numeric
		// project id.
		Repo string
		// Token is an optional private-access token.
		Token string
		// APIBase overrides the engine's default API root, for self-hosted
		// forges and tests.
		APIBase string
	}

	// Ref is one normalized tag, release, or branch entry.
	Ref struct {
		Name       string
		ArchiveURL string
		Prerelease bool
	}

	// Engine is the capability set every forge implements.
	Engine interface {
		// Kind returns the forge this engine talks to.
		Kind() Kind
		// TagsURL returns the tag listing endpoint.
		TagsURL(c Coordinates) string
		// ReleasesURL returns the release listing endpoint, or false when the
		// forge has no release concept.
		ReleasesURL(c Coordinates) (string, bool)
		// ArchiveURL returns the downloadable zip URL for a tag or branch name.
		ArchiveURL(c Coordinates, ref string) string
		// ParseTags normalizes a raw tag listing.
		ParseTags(body []byte, c Coordinates) ([]Ref, error)
		// ParseReleases normalizes a raw release listing.
		ParseReleases(body []byte, c Coordinates) ([]Ref, error)
		// AuthHeaders returns the headers that carry c.Token, or nil.
		AuthHeaders(c Coordinates) map[string]string
	}
)

// For returns the default engine for kind.
func For(kind Kind) (Engine, error) {
	switch kind {
	case KindGitHub:
		return GitHub{}, nil
	case KindGitLab:
		return GitLab{}, nil
	case KindBitbucket:
		return Bitbucket{}, nil
	}
	return nil, fault.Configuration("select forge engine", fmt.Errorf("%w: %q", ErrUnknownKind, kind))
}

// ParseKind parses a case-insensitive forge name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindGitHub, KindGitLab, KindBitbucket:
		return k, nil
	}
	return "", fault.Configuration("parse forge kind", fmt.Errorf("%w: %q", ErrUnknownKind, s))
}

// Validate reports a configuration error for incomplete coordinates.
func (c Coordinates) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if strings.TrimSpace(c.Repo) == "" || (strings.TrimSpace(c.User) == "" && !isNumeric(c.Repo)) {
		return fault.Configuration("validate repository coordinates", ErrMissingRepository)
	}
	return nil
}

// String renders the coordinates without the token.
func (c Coordinates) String() string {
	return fmt.Sprintf("%s:%s/%s", c.Kind, c.User, c.Repo)
}

func apiBase(c Coordinates, def string) string {
	if c.APIBase != "" {
		return strings.TrimRight(c.APIBase, "/")
	}
	return def
}

func bearer(c Coordinates) map[string]string {
	if c.Token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.Token}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// escapeRef escapes ref for use in a URL path, keeping "/" separators so
// branch names such as feature/x stay path segments.
func escapeRef(ref string) string {
	parts := strings.Split(ref, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// requireNames rejects listings with nameless entries, which only happens
// when the response came from a different forge than the engine expects.
func requireNames(kind Kind, refs []Ref) ([]Ref, error) {
	for i, r := range refs {
		if r.Name == "" {
			return nil, fault.Parse("normalize "+string(kind)+" listing", fmt.Errorf("entry %d has no name", i))
		}
	}
	return refs, nil
}
