// Package wire provides protobuf record framing for the output manifest.
//
// Records are google.protobuf.Struct messages, length-delimited using
// protobuf's standard varint encoding, so a manifest can be streamed while
// a job is still writing outputs. Every record carries a "kind" field.
package wire

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/ntuple/config"
)

// Record kinds.
const (
	KindTree     = "tree"
	KindHisto    = "histo"
	KindMetaData = "metadata"
	KindSummary  = "summary"
)

// Reader reads length-delimited records from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r  *bufio.Reader
	mu sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read reads and unmarshals the next record. It returns io.EOF after the
// last record.
func (r *Reader) Read() (*structpb.Struct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{
		MaxSize: config.DefaultMaxManifestRecordSize,
	}
	if err := opts.UnmarshalFrom(r.r, rec); err != nil {
		if stderrors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	return rec, nil
}

// ReadAll reads records until EOF.
func ReadAll(r io.Reader) ([]*structpb.Struct, error) {
	reader := NewReader(r)
	var out []*structpb.Struct
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

// Writer writes length-delimited records to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
	n  int
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write marshals and writes a record with length prefix.
func (w *Writer) Write(rec *structpb.Struct) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := protodelim.MarshalTo(w.w, rec); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.n++
	return nil
}

// Records returns the number of records written.
func (w *Writer) Records() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// =============================================================================
// Record Helpers
// =============================================================================

// NewRecord builds a record of the given kind. Field values follow
// structpb.NewValue; string slices are converted to lists.
func NewRecord(kind string, fields map[string]any) (*structpb.Struct, error) {
	m := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if ss, ok := v.([]string); ok {
			list := make([]any, len(ss))
			for i, s := range ss {
				list[i] = s
			}
			v = list
		}
		m[k] = v
	}
	m["kind"] = kind
	rec, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("build %s record: %w", kind, err)
	}
	return rec, nil
}

// Kind returns the kind of rec.
func Kind(rec *structpb.Struct) string {
	return rec.GetFields()["kind"].GetStringValue()
}

// String returns the string field name of rec.
func String(rec *structpb.Struct, name string) string {
	return rec.GetFields()[name].GetStringValue()
}

// Number returns the numeric field name of rec.
func Number(rec *structpb.Struct, name string) float64 {
	return rec.GetFields()[name].GetNumberValue()
}

// Strings returns the string-list field name of rec.
func Strings(rec *structpb.Struct, name string) []string {
	var out []string
	for _, v := range rec.GetFields()[name].GetListValue().GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}
