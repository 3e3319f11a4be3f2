package export

import (
	"encoding/json"
	"io"

	"github.com/hupe1980/atlasforge/orchestrator"
)

// JSONExporter writes the result as indented JSON.
type JSONExporter struct{}

// Export implements Exporter.
func (e *JSONExporter) Export(res *orchestrator.Result, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// Extension implements Exporter.
func (e *JSONExporter) Extension() string { return "json" }
