package openapi

import (
	"bytes"
	"os"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSpecReturnsCopyAndMatchesFile(t *testing.T) {
	want, err := os.ReadFile("funnel.yaml")
	if err != nil {
		t.Fatalf("read funnel.yaml: %v", err)
	}

	spec := Spec()
	if !bytes.Equal(spec, want) {
		t.Fatalf("Spec does not match embedded OpenAPI contents")
	}
	spec[0] ^= 0xFF
	if !bytes.Equal(Spec(), want) {
		t.Fatalf("Spec mutation leaked into embedded content")
	}
}

func TestSpecParses(t *testing.T) {
	var doc struct {
		OpenAPI string                    `yaml:"openapi"`
		Paths   map[string]map[string]any `yaml:"paths"`
	}
	if err := yaml.Unmarshal(FunnelSpec, &doc); err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	if doc.OpenAPI == "" || len(doc.Paths) == 0 {
		t.Fatalf("spec is missing openapi version or paths")
	}
	if _, ok := doc.Paths["/prospects/{prospectID}/transitions"]["post"]; !ok {
		t.Fatalf("transition route missing from spec")
	}
}
