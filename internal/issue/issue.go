// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"errors"
	"io/fs"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"

	"github.com/invowk/upkeep/internal/fault"
	"github.com/invowk/upkeep/internal/fetch"
	"github.com/invowk/upkeep/internal/forge"
	"github.com/invowk/upkeep/internal/staging"
	"github.com/invowk/upkeep/internal/updater"
)

type Id int

const (
	NetworkFailedId Id = iota + 1
	RateLimitedId
	ParseFailedId
	ArchiveInvalidId
	DigestMismatchId
	FilesystemFailedId
	PartialInstallId
	PermissionDeniedId
	ConfigLoadFailedId
	InvalidRepositoryId
	NoBackupsId
	StagingInProgressId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
	extLinks []HttpLink // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue as terminal markdown using the glamour style at
// stylePath ("dark", "light", "notty", or a JSON style file).
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also:\n")
		for _, link := range i.docLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
		for _, link := range i.extLinks {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

var (
	render = glamour.Render

	networkFailedIssue = &Issue{
		id: NetworkFailedId,
		mdMsg: `
# Could not reach the forge!

The request to the repository host failed or timed out.

## Things you can try:
- Check your network connection and proxy settings
- Increase the timeout in your configuration:
~~~cue
network: {
  timeout: "60s"
}
~~~

- Private repositories need a token:
~~~
$ export GITHUB_TOKEN=...
~~~`,
	}

	rateLimitedIssue = &Issue{
		id: RateLimitedId,
		mdMsg: `
# API rate limit exceeded!

The forge refused the request because the API quota is used up.

## Things you can try:
- Wait until the quota resets and try again
- Authenticate to get a higher limit:
~~~cue
forge: {
  token: "..."
}
~~~`,
		extLinks: []HttpLink{"https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api"},
	}

	parseFailedIssue = &Issue{
		id: ParseFailedId,
		mdMsg: `
# Unexpected forge response!

The tag or release listing could not be decoded.

## Common causes:
- ` + "`forge.kind`" + ` does not match the host (e.g. a GitLab URL with kind "github")
- A custom ` + "`forge.api_base`" + ` points at a web page instead of the API root

## Things you can try:
- Check the forge settings:
~~~
$ upkeep config show
~~~`,
	}

	archiveInvalidIssue = &Issue{
		id: ArchiveInvalidId,
		mdMsg: `
# The downloaded archive was rejected!

The archive is corrupt, unsupported, or does not contain what the component needs.

## Common causes:
- The archive is neither zip nor tar.gz
- An entry points outside the extraction directory
- ` + "`archive.subfolder`" + ` or ` + "`archive.required_files`" + ` do not match the release layout

## Things you can try:
- Run with ` + "`--verbose`" + ` to see which check failed
- Stage a specific tag to compare layouts:
~~~
$ upkeep stage --tag v1.2.3
~~~`,
	}

	digestMismatchIssue = &Issue{
		id: DigestMismatchId,
		mdMsg: `
# Archive checksum mismatch!

The downloaded archive does not match the pinned SHA-256 digest, so nothing was installed.

## Things you can try:
- Verify ` + "`archive.sha256`" + ` against the published checksum
- Remove the pin when installing a different version`,
	}

	filesystemFailedIssue = &Issue{
		id: FilesystemFailedId,
		mdMsg: `
# A filesystem operation failed!

Staging, promotion, or a backup could not read or write a file.

## Things you can try:
- Check free disk space in the staging and backup directories
- Run with ` + "`--verbose`" + ` for the full error chain`,
	}

	partialInstallIssue = &Issue{
		id: PartialInstallId,
		mdMsg: `
# The install is partially updated!

Promotion failed after some files were already replaced. The component may not work
until it is restored.

## Things you can try:
- Restore the backup taken before the update:
~~~
$ upkeep restore
~~~

- Use the transactional install mode to avoid mixed trees:
~~~cue
promotion: {
  mode: "replace"
}
~~~`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

You don't have permission to write to the install, staging, or backup directory.

## Things you can try:
- Check the directory owners and permissions
- Point the work directories somewhere you own:
~~~cue
install: {
  staging_dir: "~/.cache/upkeep/staging"
  backup_dir:  "~/.cache/upkeep/backups"
}
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the upkeep configuration file.

## Configuration file locations:
- Linux: ~/.config/upkeep/config.cue
- macOS: ~/Library/Application Support/upkeep/config.cue
- Windows: %APPDATA%\upkeep\config.cue

## Things you can try:
- Create a default configuration:
~~~
$ upkeep config init
~~~

## Example configuration:
~~~cue
forge: {
  kind: "github"
  user: "acme"
  repo: "tool"
}
install: {
  path:            "/opt/tool"
  current_version: "1.4.0"
}
~~~`,
	}

	invalidRepositoryIssue = &Issue{
		id: InvalidRepositoryId,
		mdMsg: `
# Repository is not configured!

upkeep needs to know which forge and repository to check.

## Things you can try:
- Set the coordinates in your config file or environment:
~~~
$ export UPKEEP_FORGE_KIND=gitlab
$ export UPKEEP_FORGE_USER=acme
$ export UPKEEP_FORGE_REPO=tool
~~~

- Valid kinds are **github**, **gitlab**, and **bitbucket**`,
	}

	noBackupsIssue = &Issue{
		id: NoBackupsId,
		mdMsg: `
# No backup to restore!

Backups are taken right before an update is applied. None exist yet.

## Things you can try:
- List the backup directory:
~~~
$ upkeep backup list
~~~

- Enable backups for future updates:
~~~cue
promotion: {
  backup: true
}
~~~`,
	}

	stagingInProgressIssue = &Issue{
		id: StagingInProgressId,
		mdMsg: `
# An update is already in progress!

Only one download or install runs at a time. Wait for it to finish and try again.`,
	}

	issues = map[Id]*Issue{
		networkFailedIssue.Id():     networkFailedIssue,
		rateLimitedIssue.Id():       rateLimitedIssue,
		parseFailedIssue.Id():       parseFailedIssue,
		archiveInvalidIssue.Id():    archiveInvalidIssue,
		digestMismatchIssue.Id():    digestMismatchIssue,
		filesystemFailedIssue.Id():  filesystemFailedIssue,
		partialInstallIssue.Id():    partialInstallIssue,
		permissionDeniedIssue.Id():  permissionDeniedIssue,
		configLoadFailedIssue.Id():  configLoadFailedIssue,
		invalidRepositoryIssue.Id(): invalidRepositoryIssue,
		noBackupsIssue.Id():         noBackupsIssue,
		stagingInProgressIssue.Id(): stagingInProgressIssue,
	}
)

// Values returns every issue ordered by Id.
func Values() []*Issue {
	all := maps.Values(issues)
	slices.SortFunc(all, func(a, b *Issue) int {
		return cmp.Compare(a.id, b.id)
	})
	return all
}

func Get(id Id) *Issue {
	return issues[id]
}

// ForError picks the issue that best explains err, or nil when none applies.
// Specific conditions win over the general error kind.
func ForError(err error) *Issue {
	if err == nil {
		return nil
	}
	switch {
	case fault.IsPartial(err):
		return partialInstallIssue
	case fetch.IsRateLimited(err):
		return rateLimitedIssue
	case errors.Is(err, staging.ErrDigestMismatch):
		return digestMismatchIssue
	case errors.Is(err, staging.ErrNoBackups):
		return noBackupsIssue
	case errors.Is(err, updater.ErrStagingInProgress), errors.Is(err, updater.ErrApplyInProgress):
		return stagingInProgressIssue
	case errors.Is(err, fs.ErrPermission):
		return permissionDeniedIssue
	case errors.Is(err, forge.ErrMissingRepository), errors.Is(err, forge.ErrUnknownKind):
		return invalidRepositoryIssue
	}

	var ae *ActionableError
	if errors.As(err, &ae) && ae.Operation == ConfigLoadOperation {
		return configLoadFailedIssue
	}

	switch fault.KindOf(err) {
	case fault.KindNetwork:
		return networkFailedIssue
	case fault.KindParse:
		return parseFailedIssue
	case fault.KindArchive:
		return archiveInvalidIssue
	case fault.KindFilesystem:
		return filesystemFailedIssue
	case fault.KindConfiguration:
		return configLoadFailedIssue
	}
	return nil
}

// ConfigLoadOperation is the ActionableError operation used for
// configuration loading failures.
const ConfigLoadOperation = "load configuration"
