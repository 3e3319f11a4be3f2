package export

import (
	"io"

	"github.com/hupe1980/atlasforge/orchestrator"
	"gopkg.in/yaml.v3"
)

// YAMLExporter writes the result as YAML.
type YAMLExporter struct{}

// Export implements Exporter.
func (e *YAMLExporter) Export(res *orchestrator.Result, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()

	return enc.Encode(res)
}

// Extension implements Exporter.
func (e *YAMLExporter) Extension() string { return "yaml" }
