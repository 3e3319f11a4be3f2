package export

import (
	"io"

	"github.com/hupe1980/atlasforge/orchestrator"
	"github.com/pelletier/go-toml/v2"
)

// TOMLExporter writes the result as TOML.
type TOMLExporter struct{}

// Export implements Exporter.
func (e *TOMLExporter) Export(res *orchestrator.Result, w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(res)
}

// Extension implements Exporter.
func (e *TOMLExporter) Extension() string { return "toml" }
