// SPDX-License-Identifier: MPL-2.0

package forge

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/invowk/upkeep/internal/fault"
)

const defaultGitHubAPI = "https://api.github.com"

type (
	// GitHub talks to api.github.com (or a GitHub Enterprise API root).
	GitHub struct{}

	githubTag struct {
		Name       string `json:"name"`
		ZipballURL string `json:"zipball_url"`
	}

	githubRelease struct {
		TagName    string `json:"tag_name"`
		ZipballURL string `json:"zipball_url"`
		Draft      bool   `json:"draft"`
		Prerelease bool   `json:"prerelease"`
	}
)

// Kind implements Engine.
func (GitHub) Kind() Kind { return KindGitHub }

func (GitHub) repoURL(c Coordinates) string {
	return fmt.Sprintf("%s/repos/%s/%s", apiBase(c, defaultGitHubAPI), url.PathEscape(c.User), url.PathEscape(c.Repo))
}

// TagsURL implements Engine.
func (g GitHub) TagsURL(c Coordinates) string {
	return g.repoURL(c) + "/tags"
}

// ReleasesURL implements Engine.
func (g GitHub) ReleasesURL(c Coordinates) (string, bool) {
	return g.repoURL(c) + "/releases", true
}

// ArchiveURL implements Engine.
func (g GitHub) ArchiveURL(c Coordinates, ref string) string {
	return g.repoURL(c) + "/zipball/" + escapeRef(ref)
}

// AuthHeaders implements Engine.
func (GitHub) AuthHeaders(c Coordinates) map[string]string {
	h := bearer(c)
	if h == nil {
		h = map[string]string{}
	}
	h["Accept"] = "application/vnd.github+json"
	return h
}

// ParseTags implements Engine. GitHub's tag list already carries a zipball
// URL per entry, so it passes through.
func (g GitHub) ParseTags(body []byte, c Coordinates) ([]Ref, error) {
	var raw []githubTag
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fault.Parse("decode github tags", err)
	}
	refs := make([]Ref, 0, len(raw))
	for _, t := range raw {
		archive := t.ZipballURL
		if archive == "" && t.Name != "" {
			archive = g.ArchiveURL(c, t.Name)
		}
		refs = append(refs, Ref{Name: t.Name, ArchiveURL: archive})
	}
	return requireNames(KindGitHub, refs)
}

// ParseReleases implements Engine. Draft releases are dropped.
func (g GitHub) ParseReleases(body []byte, c Coordinates) ([]Ref, error) {
	var raw []githubRelease
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fault.Parse("decode github releases", err)
	}
	refs := make([]Ref, 0, len(raw))
	for _, r := range raw {
		if r.Draft {
			continue
		}
		archive := r.ZipballURL
		if archive == "" && r.TagName != "" {
			archive = g.ArchiveURL(c, r.TagName)
		}
		refs = append(refs, Ref{Name: r.TagName, ArchiveURL: archive, Prerelease: r.Prerelease})
	}
	return requireNames(KindGitHub, refs)
}
