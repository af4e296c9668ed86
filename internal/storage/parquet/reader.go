package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
	"go-hep.org/x/hep/hbook"
)

// ReadRows reads all rows of a tree file into values of type T. Columns
// are matched by their parquet tag; columns T does not declare are
// skipped.
func ReadRows[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[T](f, parquet.ReadBufferSize(1024*1024))
	defer reader.Close()

	rows := make([]T, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}

// FileInfo holds information about a tree file.
type FileInfo struct {
	Path     string
	Size     int64
	NumRows  int64
	Columns  []string
	Metadata map[string]string
}

// Friends returns the friend paths recorded in the file.
func (i *FileInfo) Friends() []string {
	v := i.Metadata[MetaFriends]
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// GetFileInfo returns information about a tree file.
func GetFileInfo(path string) (*FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	info := &FileInfo{
		Path:     path,
		Size:     stat.Size(),
		NumRows:  pf.NumRows(),
		Metadata: make(map[string]string),
	}
	for _, field := range pf.Schema().Fields() {
		info.Columns = append(info.Columns, field.Name())
	}
	for _, kv := range pf.Metadata().KeyValueMetadata {
		info.Metadata[kv.Key] = kv.Value
	}

	return info, nil
}

// ReadHisto reads a histogram written by the backend.
func ReadHisto(path string) (*hbook.H1D, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h hbook.H1D
	if err := h.UnmarshalYODA(data); err != nil {
		return nil, fmt.Errorf("unmarshal histogram: %w", err)
	}
	return &h, nil
}
