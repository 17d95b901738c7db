package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/MrWong99/callout/pkg/announce"
)

// Compile-time interface check.
var _ Sink = (*FileSink)(nil)

// FileSink appends completions as JSON lines to a local file. It gives a
// display terminal a delivery log without a database.
// Thread-safe for concurrent use.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a FileSink that writes to path. The file is created on
// first write if it does not exist.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Name implements [Sink].
func (fs *FileSink) Name() string { return "file" }

// Send implements [Sink] by appending c to the file.
func (fs *FileSink) Send(_ context.Context, c announce.Completion) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("report: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}
