// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates CUE documents against an embedded schema and
// formats CUE errors with file and field paths.
//
//	//go:embed config_schema.cue
//	var schema string
//
//	m, err := cueutil.DecodeMap(schema, data, "#Config", cueutil.WithFilename(path))
package cueutil
