// Package configs provides embedded configuration templates for tendocs.
//
// Templates are embedded at build time using Go's //go:embed directive so
// they ship inside the binary regardless of how it was installed. The
// 'tendocs init' command writes ConfigTemplate to disk as a starting point.
package configs

import _ "embed"

// ConfigTemplate is the annotated tendocs.yaml template written by
// 'tendocs init'. Every value in it matches the built-in defaults.
//
//go:embed tendocs.example.yaml
var ConfigTemplate string
