// Package storage implements the output service that trees and histograms
// of an analysis job are written through.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  tree.Tree  │────▶│   Service   │────▶│   Backend   │
//	│  histo.Base │     │ (registry)  │     │ parquet/ROOT│
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │
//	                           ▼
//	                    ┌─────────────┐
//	                    │  Manifest   │
//	                    │ (wire recs) │
//	                    └─────────────┘
//
// Trees and histograms are registered by path, "/<dir>/<name>". A Tree is
// a table with a fixed set of typed columns: branches are declared, the
// tree is sealed, and from then on every Fill writes one complete row.
// A row with a column that was not set since the previous fill is never
// written.
//
// The service provides:
//   - Registration and de-registration of trees and histograms by path
//   - Directory listings for final write-out
//   - An in-memory backend used by tests and dry runs
//   - A length-delimited manifest of everything written
//
// Backends for Parquet and ROOT files live in the parquet and root
// sub-packages.
package storage
