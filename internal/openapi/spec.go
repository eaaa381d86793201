// Package openapi embeds the bridge's API description.
package openapi

import (
	_ "embed"
	"sync"

	"sigs.k8s.io/yaml"
)

//go:embed spec.yaml
var specYAML []byte

var renderJSON = sync.OnceValues(func() ([]byte, error) {
	return yaml.YAMLToJSON(specYAML)
})

// JSON returns the document converted to JSON. The conversion runs once.
func JSON() ([]byte, error) {
	return renderJSON()
}
