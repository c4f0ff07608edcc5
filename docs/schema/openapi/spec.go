// Package openapi embeds the OpenAPI description of the healthcore HTTP API.
package openapi

import _ "embed"

//go:embed healthcore.yaml
var document []byte

// Spec returns a copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), document...)
}
