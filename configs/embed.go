// Package configs embeds the configuration templates written by
// `fixrecall init`.
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults (config.NewConfig)
//  2. User config ($XDG_CONFIG_HOME/fixrecall/config.yaml)
//  3. Project config (.fixrecall.yaml)
//  4. Environment variables (FIXRECALL_*)
//
// Edit the .yaml files in this directory; they are embedded at build time.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .fixrecall.yaml by `fixrecall init`.
// Every value in it equals the built-in default, so an untouched file
// changes nothing.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
