package storage

import (
	"fmt"
	"path"
	"reflect"
	"strings"

	"go-hep.org/x/hep/hbook"

	"github.com/xtxerr/ntuple/internal/errors"
)

// Column describes one branch of a tree.
type Column struct {
	Name string
	Type reflect.Type
}

// TreeWriter persists the rows of one tree.
type TreeWriter interface {
	// Write persists one row. Values are ordered like the columns the
	// writer was created with.
	Write(row []any) error

	// Close flushes the tree. friends lists the paths of trees whose rows
	// join this one row by row.
	Close(friends []string) error
}

// Backend persists trees and histograms.
type Backend interface {
	Name() string
	CreateTree(dir, name string, columns []Column) (TreeWriter, error)
	WriteHisto(dir, name string, h *hbook.H1D) error
	Close() error
}

// SplitPath splits an object path into its directory and name. Leading
// and trailing slashes are ignored.
func SplitPath(p string) (dir, name string, err error) {
	clean := strings.Trim(path.Clean("/"+p), "/")
	if clean == "" || clean == "." {
		return "", "", errors.NewValidation("path", fmt.Sprintf("%q has no object name", p))
	}
	dir, name = path.Split(clean)
	return strings.TrimSuffix(dir, "/"), name, nil
}

// JoinPath builds an object path from its parts.
func JoinPath(parts ...string) string {
	return path.Clean("/" + path.Join(parts...))
}

// IsNested reports whether t is a slice of slices.
func IsNested(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Slice
}
