// Package export renders debate results for the command line.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/hupe1980/atlasforge/orchestrator"
)

// Exporter writes a debate result in one format.
type Exporter interface {
	Export(res *orchestrator.Result, w io.Writer) error
	Extension() string
}

// Formats lists the supported format names.
var Formats = []string{"text", "json", "yaml", "toml", "md"}

// NewExporter returns the exporter for format.
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &TextExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "toml":
		return &TOMLExporter{}, nil
	case "md", "markdown":
		return &MarkdownExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s (supported: %s)", format, strings.Join(Formats, ", "))
	}
}
