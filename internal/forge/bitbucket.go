// SPDX-License-Identifier: MPL-2.0

package forge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/invowk/upkeep/internal/fault"
)

const (
	defaultBitbucketAPI = "https://api.bitbucket.org"
	defaultBitbucketWeb = "https://bitbucket.org"
)

type (
	// Bitbucket talks to the Bitbucket Cloud 2.0 API. Archives are served from
	// the web host, not the API host; WebBase overrides it.
	Bitbucket struct {
		WebBase string
	}

	bitbucketTags struct {
		Values *[]struct {
			Name string `json:"name"`
		} `json:"values"`
	}
)

// Kind implements Engine.
func (Bitbucket) Kind() Kind { return KindBitbucket }

func (Bitbucket) repoURL(c Coordinates) string {
	return fmt.Sprintf("%s/2.0/repositories/%s/%s", apiBase(c, defaultBitbucketAPI), url.PathEscape(c.User), url.PathEscape(c.Repo))
}

// TagsURL implements Engine. The listing is sorted descending by name on the
// server side.
func (b Bitbucket) TagsURL(c Coordinates) string {
	return b.repoURL(c) + "/refs/tags?sort=-name"
}

// ReleasesURL implements Engine. Bitbucket has no releases.
func (Bitbucket) ReleasesURL(Coordinates) (string, bool) {
	return "", false
}

// ArchiveURL implements Engine.
func (b Bitbucket) ArchiveURL(c Coordinates, ref string) string {
	web := defaultBitbucketWeb
	if b.WebBase != "" {
		web = strings.TrimRight(b.WebBase, "/")
	}
	return fmt.Sprintf("%s/%s/%s/get/%s.zip", web, url.PathEscape(c.User), url.PathEscape(c.Repo), escapeRef(ref))
}

// AuthHeaders implements Engine.
func (Bitbucket) AuthHeaders(c Coordinates) map[string]string {
	return bearer(c)
}

// ParseTags implements Engine. Each values[].name becomes a Ref whose
// archive URL is built from the web-host template.
func (b Bitbucket) ParseTags(body []byte, c Coordinates) ([]Ref, error) {
	var raw bitbucketTags
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fault.Parse("decode bitbucket tags", err)
	}
	if raw.Values == nil {
		return nil, fault.Parse("decode bitbucket tags", errors.New(`response has no "values" field`))
	}
	refs := make([]Ref, 0, len(*raw.Values))
	for _, v := range *raw.Values {
		refs = append(refs, Ref{Name: v.Name, ArchiveURL: b.ArchiveURL(c, v.Name)})
	}
	return requireNames(KindBitbucket, refs)
}

// ParseReleases implements Engine; it always fails because Bitbucket has no
// release listing.
func (Bitbucket) ParseReleases([]byte, Coordinates) ([]Ref, error) {
	return nil, fault.Configuration("list bitbucket releases", errors.New("bitbucket has no releases endpoint"))
}
