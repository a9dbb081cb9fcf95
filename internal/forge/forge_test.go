// SPDX-License-Identifier: MPL-2.0

package forge

import (
	"errors"
	"testing"

	"github.com/invowk/upkeep/internal/fault"
)

func TestFor(t *testing.T) {
	t.Parallel()

	for _, kind := range []Kind{KindGitHub, KindGitLab, KindBitbucket} {
		e, err := For(kind)
		if err != nil {
			t.Fatalf("For(%q): %v", kind, err)
		}
		if e.Kind() != kind {
			t.Errorf("For(%q).Kind() = %q", kind, e.Kind())
		}
	}

	_, err := For("gitea")
	if !errors.Is(err, fault.ErrConfiguration) || !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("For(gitea) = %v, want configuration error", err)
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := ParseKind(" GitLab ")
	if err != nil || k != KindGitLab {
		t.Fatalf("ParseKind = %q, %v", k, err)
	}
	if _, err := ParseKind("svn"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestCoordinatesValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		c       Coordinates
		wantErr bool
	}{
		{"complete", Coordinates{Kind: KindGitHub, User: "acme", Repo: "tool"}, false},
		{"gitlab numeric id", Coordinates{Kind: KindGitLab, Repo: "4242"}, false},
		{"missing user", Coordinates{Kind: KindGitHub, Repo: "tool"}, true},
		{"missing repo", Coordinates{Kind: KindBitbucket, User: "acme"}, true},
		{"unknown kind", Coordinates{Kind: "cvs", User: "acme", Repo: "tool"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && fault.KindOf(err) != fault.KindConfiguration {
				t.Errorf("kind = %v, want configuration", fault.KindOf(err))
			}
		})
	}
}

func TestCoordinatesStringOmitsToken(t *testing.T) {
	t.Parallel()

	c := Coordinates{Kind: KindGitHub, User: "acme", Repo: "tool", Token: "ghp_secret"}
	if got := c.String(); got != "github:acme/tool" {
		t.Errorf("String() = %q", got)
	}
}

func TestURLs(t *testing.T) {
	t.Parallel()

	gh := Coordinates{Kind: KindGitHub, User: "acme", Repo: "tool"}
	gl := Coordinates{Kind: KindGitLab, User: "acme", Repo: "tool"}
	glID := Coordinates{Kind: KindGitLab, Repo: "4242"}
	bb := Coordinates{Kind: KindBitbucket, User: "acme", Repo: "tool"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"github tags", GitHub{}.TagsURL(gh), "https://api.github.com/repos/acme/tool/tags"},
		{"github archive", GitHub{}.ArchiveURL(gh, "v1.0.0"), "https://api.github.com/repos/acme/tool/zipball/v1.0.0"},
		{"github branch archive", GitHub{}.ArchiveURL(gh, "main"), "https://api.github.com/repos/acme/tool/zipball/main"},
		{"github nested branch archive", GitHub{}.ArchiveURL(gh, "feature/x y"), "https://api.github.com/repos/acme/tool/zipball/feature/x%20y"},
		{"gitlab tags", GitLab{}.TagsURL(gl), "https://gitlab.com/api/v4/projects/acme%2Ftool/repository/tags"},
		{"gitlab tags by id", GitLab{}.TagsURL(glID), "https://gitlab.com/api/v4/projects/4242/repository/tags"},
		{"gitlab archive", GitLab{}.ArchiveURL(glID, "v1.0"), "https://gitlab.com/api/v4/projects/4242/repository/archive.zip?sha=v1.0"},
		{"bitbucket tags", Bitbucket{}.TagsURL(bb), "https://api.bitbucket.org/2.0/repositories/acme/tool/refs/tags?sort=-name"},
		{"bitbucket archive", Bitbucket{}.ArchiveURL(bb, "v1.0"), "https://bitbucket.org/acme/tool/get/v1.0.zip"},
		{"bitbucket nested branch archive", Bitbucket{}.ArchiveURL(bb, "release/2.x"), "https://bitbucket.org/acme/tool/get/release/2.x.zip"},
		{"api override", GitHub{}.TagsURL(Coordinates{User: "a", Repo: "b", APIBase: "http://127.0.0.1:9/"}), "http://127.0.0.1:9/repos/a/b/tags"},
		{"web override", Bitbucket{WebBase: "http://web.test"}.ArchiveURL(bb, "v2"), "http://web.test/acme/tool/get/v2.zip"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, tt.got, tt.want)
		}
	}

	if _, ok := (Bitbucket{}).ReleasesURL(bb); ok {
		t.Error("bitbucket should report no releases endpoint")
	}
	if u, ok := (GitLab{}).ReleasesURL(glID); !ok || u != "https://gitlab.com/api/v4/projects/4242/releases" {
		t.Errorf("gitlab releases = %q, %v", u, ok)
	}
}

func TestAuthHeaders(t *testing.T) {
	t.Parallel()

	c := Coordinates{User: "acme", Repo: "tool", Token: "tok"}
	if got := (GitLab{}).AuthHeaders(c)["PRIVATE-TOKEN"]; got != "tok" {
		t.Errorf("gitlab PRIVATE-TOKEN = %q", got)
	}
	if got := (GitHub{}).AuthHeaders(c)["Authorization"]; got != "Bearer tok" {
		t.Errorf("github Authorization = %q", got)
	}
	if got := (Bitbucket{}).AuthHeaders(c)["Authorization"]; got != "Bearer tok" {
		t.Errorf("bitbucket Authorization = %q", got)
	}

	c.Token = ""
	if h := (GitLab{}).AuthHeaders(c); h != nil {
		t.Errorf("gitlab without token = %v, want nil", h)
	}
	if _, ok := (GitHub{}).AuthHeaders(c)["Authorization"]; ok {
		t.Error("github without token should not send Authorization")
	}
}

func TestGitHubParseTags(t *testing.T) {
	t.Parallel()

	c := Coordinates{Kind: KindGitHub, User: "acme", Repo: "tool"}
	body := []byte(`[
		{"name": "v2.0.0", "zipball_url": "https://api.github.com/repos/acme/tool/zipball/refs/tags/v2.0.0"},
		{"name": "v1.0.0"}
	]`)
	refs, err := GitHub{}.ParseTags(body, c)
	if err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2", len(refs))
	}
	if refs[0].Name != "v2.0.0" || refs[0].ArchiveURL != "https://api.github.com/repos/acme/tool/zipball/refs/tags/v2.0.0" {
		t.Errorf("refs[0] = %+v", refs[0])
	}
	if refs[1].ArchiveURL != "https://api.github.com/repos/acme/tool/zipball/v1.0.0" {
		t.Errorf("refs[1] archive = %q", refs[1].ArchiveURL)
	}
}

func TestGitHubParseReleasesDropsDrafts(t *testing.T) {
	t.Parallel()

	body := []byte(`[
		{"tag_name": "v3.0.0", "draft": true},
		{"tag_name": "v2.1.0-rc.1", "prerelease": true},
		{"tag_name": "v2.0.0"}
	]`)
	refs, err := GitHub{}.ParseReleases(body, Coordinates{User: "acme", Repo: "tool"})
	if err != nil {
		t.Fatalf("ParseReleases: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("got %d refs, want 2 (draft dropped)", len(refs))
	}
	if !refs[0].Prerelease || refs[1].Prerelease {
		t.Errorf("prerelease flags = %v, %v", refs[0].Prerelease, refs[1].Prerelease)
	}
}

func TestGitLabParseTagsUsesCommit(t *testing.T) {
	t.Parallel()

	c := Coordinates{Kind: KindGitLab, Repo: "4242"}
	body := []byte(`[{"name": "v1.1", "commit": {"id": "abc123"}}, {"name": "v1.0"}]`)
	refs, err := GitLab{}.ParseTags(body, c)
	if err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if refs[0].ArchiveURL != "https://gitlab.com/api/v4/projects/4242/repository/archive.zip?sha=abc123" {
		t.Errorf("refs[0] archive = %q", refs[0].ArchiveURL)
	}
	if refs[1].ArchiveURL != "https://gitlab.com/api/v4/projects/4242/repository/archive.zip?sha=v1.0" {
		t.Errorf("refs[1] archive = %q", refs[1].ArchiveURL)
	}
}

func TestGitLabParseReleases(t *testing.T) {
	t.Parallel()

	body := []byte(`[{"tag_name": "v2.0", "upcoming_release": true}, {"tag_name": "v1.0"}]`)
	refs, err := GitLab{}.ParseReleases(body, Coordinates{Repo: "7"})
	if err != nil {
		t.Fatalf("ParseReleases: %v", err)
	}
	if len(refs) != 2 || !refs[0].Prerelease || refs[1].Name != "v1.0" {
		t.Errorf("refs = %+v", refs)
	}
}

func TestBitbucketParseTagsKeepsOrder(t *testing.T) {
	t.Parallel()

	c := Coordinates{Kind: KindBitbucket, User: "acme", Repo: "tool"}
	body := []byte(`{"values": [{"name": "v1.10"}, {"name": "v1.9"}], "pagelen": 10}`)
	refs, err := Bitbucket{}.ParseTags(body, c)
	if err != nil {
		t.Fatalf("ParseTags: %v", err)
	}
	if len(refs) != 2 || refs[0].Name != "v1.10" || refs[1].Name != "v1.9" {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[1].ArchiveURL != "https://bitbucket.org/acme/tool/get/v1.9.zip" {
		t.Errorf("archive = %q", refs[1].ArchiveURL)
	}

	if _, err := (Bitbucket{}).ParseReleases(nil, c); !errors.Is(err, fault.ErrConfiguration) {
		t.Errorf("ParseReleases = %v, want configuration error", err)
	}
}

func TestEmptyListingIsNotAnError(t *testing.T) {
	t.Parallel()

	if refs, err := (GitHub{}).ParseTags([]byte(`[]`), Coordinates{}); err != nil || len(refs) != 0 {
		t.Errorf("github = %v, %v", refs, err)
	}
	if refs, err := (Bitbucket{}).ParseTags([]byte(`{"values": []}`), Coordinates{}); err != nil || len(refs) != 0 {
		t.Errorf("bitbucket = %v, %v", refs, err)
	}
}

func TestWrongEngineFailsLoudly(t *testing.T) {
	t.Parallel()

	githubBody := []byte(`[{"name": "v1.0.0", "zipball_url": "x"}]`)
	bitbucketBody := []byte(`{"values": [{"name": "v1.0.0"}]}`)
	gitlabReleases := []byte(`[{"tag_name": "v1.0.0"}]`)

	tests := []struct {
		name string
		run  func() ([]Ref, error)
	}{
		{"github listing to bitbucket", func() ([]Ref, error) { return Bitbucket{}.ParseTags(githubBody, Coordinates{}) }},
		{"bitbucket listing to github", func() ([]Ref, error) { return GitHub{}.ParseTags(bitbucketBody, Coordinates{}) }},
		{"bitbucket listing to gitlab", func() ([]Ref, error) { return GitLab{}.ParseTags(bitbucketBody, Coordinates{}) }},
		{"release listing to tag parser", func() ([]Ref, error) { return GitLab{}.ParseTags(gitlabReleases, Coordinates{}) }},
		{"error object to bitbucket", func() ([]Ref, error) {
			return Bitbucket{}.ParseTags([]byte(`{"type": "error"}`), Coordinates{})
		}},
		{"html to github", func() ([]Ref, error) { return GitHub{}.ParseTags([]byte(`<html>`), Coordinates{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			refs, err := tt.run()
			if !errors.Is(err, fault.ErrParse) {
				t.Fatalf("got refs=%v err=%v, want parse error", refs, err)
			}
		})
	}
}
