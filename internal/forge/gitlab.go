// SPDX-License-Identifier: MPL-2.0

package forge

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/invowk/upkeep/internal/fault"
)

const defaultGitLabAPI = "https://gitlab.com"

type (
	// GitLab talks to the GitLab v4 API. Repo may be a numeric project id,
	// otherwise the project is addressed by its escaped "user/repo" path.
	GitLab struct{}

	gitlabTag struct {
		Name   string `json:"name"`
		Commit struct {
			ID string `json:"id"`
		} `json:"commit"`
	}

	gitlabRelease struct {
		TagName         string `json:"tag_name"`
		UpcomingRelease bool   `json:"upcoming_release"`
	}
)

// Kind implements Engine.
func (GitLab) Kind() Kind { return KindGitLab }

func (GitLab) projectURL(c Coordinates) string {
	project := c.Repo
	if !isNumeric(project) {
		project = url.PathEscape(c.User + "/" + c.Repo)
	}
	return fmt.Sprintf("%s/api/v4/projects/%s", apiBase(c, defaultGitLabAPI), project)
}

// TagsURL implements Engine.
func (g GitLab) TagsURL(c Coordinates) string {
	return g.projectURL(c) + "/repository/tags"
}

// ReleasesURL implements Engine.
func (g GitLab) ReleasesURL(c Coordinates) (string, bool) {
	return g.projectURL(c) + "/releases", true
}

// ArchiveURL implements Engine. ref may be a tag, branch, or commit sha.
func (g GitLab) ArchiveURL(c Coordinates, ref string) string {
	return g.projectURL(c) + "/repository/archive.zip?sha=" + url.QueryEscape(ref)
}

// AuthHeaders implements Engine. GitLab personal tokens travel in
// PRIVATE-TOKEN rather than Authorization.
func (GitLab) AuthHeaders(c Coordinates) map[string]string {
	if c.Token == "" {
		return nil
	}
	return map[string]string{"PRIVATE-TOKEN": c.Token}
}

// ParseTags implements Engine. Archives are addressed by commit id when the
// listing carries one, so a later force-push of the tag cannot change what
// was selected.
func (g GitLab) ParseTags(body []byte, c Coordinates) ([]Ref, error) {
	var raw []gitlabTag
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fault.Parse("decode gitlab tags", err)
	}
	refs := make([]Ref, 0, len(raw))
	for _, t := range raw {
		sha := t.Commit.ID
		if sha == "" {
			sha = t.Name
		}
		refs = append(refs, Ref{Name: t.Name, ArchiveURL: g.ArchiveURL(c, sha)})
	}
	return requireNames(KindGitLab, refs)
}

// ParseReleases implements Engine. Upcoming (scheduled) releases are treated
// as pre-releases.
func (g GitLab) ParseReleases(body []byte, c Coordinates) ([]Ref, error) {
	var raw []gitlabRelease
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fault.Parse("decode gitlab releases", err)
	}
	refs := make([]Ref, 0, len(raw))
	for _, r := range raw {
		refs = append(refs, Ref{Name: r.TagName, ArchiveURL: g.ArchiveURL(c, r.TagName), Prerelease: r.UpcomingRelease})
	}
	return requireNames(KindGitLab, refs)
}
