package output

import (
	"bufio"
	"io"
	"sync"

	"github.com/bytedance/sonic"
)

// JSONLWriter writes one Record per line as JSON. It is safe for concurrent
// use so runner workers can stream into it.
type JSONLWriter struct {
	w  *bufio.Writer
	mu sync.Mutex
}

// NewJSONLWriter wraps an io.Writer with buffering.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{w: bufio.NewWriter(w)}
}

// Write writes a single record as a JSON line.
func (j *JSONLWriter) Write(rec Record) error {
	b, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	return j.w.WriteByte('\n')
}

// Flush flushes the underlying buffer.
func (j *JSONLWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.w.Flush()
}

// Close flushes the buffer; keep the signature similar to io.Closer.
func (j *JSONLWriter) Close() error {
	return j.Flush()
}

// WriteJSONL writes each record as a JSON line to w.
func WriteJSONL(w io.Writer, records []Record) error {
	jw := NewJSONLWriter(w)
	for _, rec := range records {
		if err := jw.Write(rec); err != nil {
			return err
		}
	}
	return jw.Flush()
}
