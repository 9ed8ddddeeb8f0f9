// Package openapi embeds the OpenAPI description of the funnel HTTP API.
package openapi

import _ "embed"

// FunnelSpec is the OpenAPI document served at /openapi.yaml.
//
//go:embed funnel.yaml
var FunnelSpec []byte

// Spec returns a copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), FunnelSpec...)
}
