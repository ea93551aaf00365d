package transport

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/spangle"
)

// FileExporter writes trace batches as JSON files, one file per trace. It is
// a local stand-in for the remote collection service, useful for debugging
// and tests.
type FileExporter struct {
	dir string
}

// NewFileExporter creates a FileExporter that writes to the given directory.
func NewFileExporter(dir string) *FileExporter {
	return &FileExporter{dir: dir}
}

// Export writes each trace to {dir}/{trace_id}.json.
func (e *FileExporter) Export(_ context.Context, batch spangle.Batch) error {
	if err := os.MkdirAll(e.dir, 0750); err != nil {
		return goerr.Wrap(err, "failed to create trace directory", goerr.V("dir", e.dir))
	}

	for _, trace := range batch.Traces {
		data, err := json.MarshalIndent(trace, "", "  ")
		if err != nil {
			return goerr.Wrap(err, "failed to marshal trace", goerr.V("trace_id", trace.ID()))
		}

		filePath := filepath.Join(e.dir, trace.ID().String()+".json")
		if err := os.WriteFile(filePath, data, 0600); err != nil {
			return goerr.Wrap(err, "failed to write trace file", goerr.V("path", filePath))
		}
	}

	return nil
}
