package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/ntuple/internal/storage"
)

// Metadata keys written into every tree file.
const (
	MetaTree    = "ntuple.tree"
	MetaFriends = "ntuple.friends"
)

// LengthSuffix names the column holding the inner lengths of a flattened
// vector-of-vector branch.
const LengthSuffix = "_len"

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression: CompressionZstd,
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// fieldMap ties one tree column to the struct fields it is stored in.
type fieldMap struct {
	column  int
	value   int
	lengths int // -1 unless the column is a vector of vectors
	typ     reflect.Type
}

// TreeWriter writes the rows of one tree to a Parquet file. The row
// schema is derived from the tree columns when the writer is created.
type TreeWriter struct {
	mu       sync.Mutex
	path     string
	name     string
	file     *os.File
	writer   *parquet.Writer
	rowType  reflect.Type
	fields   []fieldMap
	rowCount int64
	closed   bool
}

// NewTreeWriter creates a Parquet file for a tree with the given columns.
func NewTreeWriter(path, name string, columns []storage.Column, opts Options) (*TreeWriter, error) {
	rowType, fields, err := rowSchema(columns)
	if err != nil {
		return nil, err
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	schema := parquet.SchemaOf(reflect.New(rowType).Interface())
	writer := parquet.NewWriter(f, schema, parquet.Compression(getCompression(opts.Compression)))

	return &TreeWriter{
		path:    path,
		name:    name,
		file:    f,
		writer:  writer,
		rowType: rowType,
		fields:  fields,
	}, nil
}

// rowSchema builds a struct type holding one row. int8 values are widened
// to int32, vectors of vectors are flattened into a value and a length
// column.
func rowSchema(columns []storage.Column) (reflect.Type, []fieldMap, error) {
	var structFields []reflect.StructField
	var fields []fieldMap

	add := func(name string, t reflect.Type) int {
		structFields = append(structFields, reflect.StructField{
			Name: fmt.Sprintf("F%d", len(structFields)),
			Type: t,
			Tag:  reflect.StructTag(fmt.Sprintf(`parquet:%q`, name)),
		})
		return len(structFields) - 1
	}

	for i, col := range columns {
		if col.Type == nil {
			return nil, nil, fmt.Errorf("column %s has no type", col.Name)
		}
		m := fieldMap{column: i, lengths: -1}
		if storage.IsNested(col.Type) {
			m.typ = reflect.SliceOf(widen(col.Type.Elem().Elem()))
			m.value = add(col.Name, m.typ)
			m.lengths = add(col.Name+LengthSuffix, reflect.TypeOf([]int32(nil)))
		} else {
			m.typ = widenType(col.Type)
			m.value = add(col.Name, m.typ)
		}
		fields = append(fields, m)
	}

	return reflect.StructOf(structFields), fields, nil
}

func widen(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Int8 {
		return reflect.TypeOf(int32(0))
	}
	return t
}

func widenType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Slice {
		return reflect.SliceOf(widen(t.Elem()))
	}
	return widen(t)
}

// convert converts v to type to, element-wise for slices.
func convert(v reflect.Value, to reflect.Type) reflect.Value {
	if v.Type() == to {
		return v
	}
	if to.Kind() != reflect.Slice {
		return v.Convert(to)
	}
	out := reflect.MakeSlice(to, v.Len(), v.Len())
	for i := 0; i < v.Len(); i++ {
		out.Index(i).Set(convert(v.Index(i), to.Elem()))
	}
	return out
}

// Write writes one row. Values are ordered like the tree columns.
func (w *TreeWriter) Write(row []any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if len(row) != len(w.fields) {
		return fmt.Errorf("row has %d values, want %d", len(row), len(w.fields))
	}

	rv := reflect.New(w.rowType).Elem()
	for _, m := range w.fields {
		v := reflect.ValueOf(row[m.column])
		if m.lengths < 0 {
			rv.Field(m.value).Set(convert(v, m.typ))
			continue
		}
		flat := reflect.MakeSlice(m.typ, 0, 0)
		lengths := make([]int32, v.Len())
		for i := 0; i < v.Len(); i++ {
			inner := v.Index(i)
			lengths[i] = int32(inner.Len())
			flat = reflect.AppendSlice(flat, convert(inner, m.typ))
		}
		rv.Field(m.value).Set(flat)
		rv.Field(m.lengths).Set(reflect.ValueOf(lengths))
	}

	if err := w.writer.Write(rv.Interface()); err != nil {
		return fmt.Errorf("write row: %w", err)
	}

	w.rowCount++
	return nil
}

// Close records the tree name and friends in the file metadata and closes
// the file.
func (w *TreeWriter) Close(friends []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	w.writer.SetKeyValueMetadata(MetaTree, w.name)
	if len(friends) > 0 {
		w.writer.SetKeyValueMetadata(MetaFriends, strings.Join(friends, ","))
	}

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *TreeWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *TreeWriter) Path() string {
	return w.path
}

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")
