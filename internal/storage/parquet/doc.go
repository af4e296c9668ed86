// Package parquet implements the Parquet output backend.
//
// The package provides:
//   - TreeWriter, writing the rows of one tree with a schema built from the
//     tree's columns at initialisation
//   - Backend, mapping object paths to files below a root directory
//   - Histograms as YODA text files next to the trees
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - ReadRows and GetFileInfo for reading trees back
package parquet
