// Package configs provides embedded configuration templates for trirank.
//
// Templates are embedded at build time using Go's //go:embed directive so
// they are available in all distributions (source builds and binary
// releases).
//
// The templates are used by:
//   - cmd/trirank/cmd/config.go → `trirank config init` creates the user
//     config at ~/.config/trirank/config.yaml
//   - cmd/trirank/cmd/config.go → `trirank config init --project` creates
//     .trirank.yaml in the corpus root
//
// Configuration hierarchy (see internal/config.Load):
//  1. Hardcoded defaults (internal/config NewConfig)
//  2. User config (~/.config/trirank/config.yaml)
//  3. Project config (.trirank.yaml)
//  4. Environment variables (TRIRANK_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by `trirank config init` at ~/.config/trirank/config.yaml.
// Holds settings that apply to every corpus on this machine.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for corpus-level configuration.
// Created by `trirank config init --project` at .trirank.yaml in the
// corpus root. Holds per-corpus tuning that is version-controlled with
// the corpus.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
