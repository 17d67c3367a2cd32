package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Writer prints messages instead of sending them. Used by the stdout
// channel and by dry runs.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriter(out io.Writer) *Writer {
	if out == nil {
		out = os.Stdout
	}
	return &Writer{out: out}
}

func (w *Writer) Send(ctx context.Context, destination, text string) error {
	if err := ctx.Err(); err != nil {
		return &SendError{Destination: destination, Cause: err}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.out, "--> %s\n%s\n\n", destination, text); err != nil {
		return &SendError{Destination: destination, Cause: err}
	}
	return nil
}
