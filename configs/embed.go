// Package configs holds the embedded configuration templates.
//
// `correl8 config init` writes UserConfigTemplate to
// $XDG_CONFIG_HOME/correl8/config.yaml (or ~/.config/correl8/config.yaml).
// `correl8 config init --project` writes ProjectConfigTemplate to .correl8.yaml.
//
// Precedence (see internal/config Load): defaults, user config, project
// config, then CORREL8_* environment variables.
package configs

import _ "embed"

// UserConfigTemplate is the machine-level template: store connection and logging.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the project-level template: index naming and
// timestamp handling for one data source.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
