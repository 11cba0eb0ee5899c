// Package configfiles carries the ratekeeper defaults and config schema in the
// layout gofulmen/config expects: config/<category>/<version>/<defaults> and
// schemas/<category>/<version>/<name>.schema.json.
package configfiles

import "embed"

const (
	Category     = "ratekeeper"
	Version      = "v0"
	DefaultsFile = "ratekeeper-defaults.yaml"
	SchemaID     = Category + "/" + Version + "/config"
)

// FS holds the config and schemas trees.
//
//go:embed config schemas
var FS embed.FS

// DefaultsPath is the defaults file path inside FS.
const DefaultsPath = "config/" + Category + "/" + Version + "/" + DefaultsFile
