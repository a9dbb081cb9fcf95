// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/upkeep/config.cue (or XDG equivalent on Linux,
// ~/Library/Application Support/upkeep/config.cue on macOS, %APPDATA%\upkeep\config.cue
// on Windows), validated against the embedded config_schema.cue, and overridden by
// UPKEEP_* environment variables. Forge tokens fall back to GITHUB_TOKEN, GITLAB_TOKEN,
// or BITBUCKET_TOKEN.
package config
