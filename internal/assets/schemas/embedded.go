// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time to ensure the CLI and library work
// correctly regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// AlertManifestSchema is the embedded alert-manifest JSON schema.
//
// This allows manifest validation to work in installed binaries and library
// consumers without requiring the schema file to be present on disk.
//
//go:embed alert-manifest.schema.json
var AlertManifestSchema []byte
