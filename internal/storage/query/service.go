package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/ntuple/internal/storage/parquet"
)

// Service queries the Parquet trees written below one output directory.
// It uses an in-memory DuckDB database.
type Service struct {
	mu sync.RWMutex

	root string
	db   *sql.DB

	// Statistics
	stats Stats
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// Options configures the query service.
type Options struct {
	// MemoryLimit is passed to DuckDB's memory_limit setting when set.
	MemoryLimit string
}

// Normalisation holds the per-channel numbers needed to scale simulated
// events to a luminosity.
type Normalisation struct {
	DSID             uint32
	ProcessedEvents  int64
	SumW             float64
	XSection         float64
	KFactor          float64
	FilterEfficiency float64
}

// LumiWeight returns the per-event weight for one inverse picobarn, or 0
// when the sum of weights is 0.
func (n Normalisation) LumiWeight() float64 {
	if n.SumW == 0 {
		return 0
	}
	return n.XSection * n.KFactor * n.FilterEfficiency / n.SumW
}

// New creates a query service over the trees below root.
func New(root string, opts Options) (*Service, error) {
	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if opts.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit='%s'", opts.MemoryLimit))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{
		root: root,
		db:   db,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// TreeFile returns the file of the tree at dir/name.
func (s *Service) TreeFile(dir, name string) string {
	return filepath.Join(s.root, filepath.FromSlash(dir), name+parquet.TreeExt)
}

// TreeEntries returns the number of rows of a tree.
func (s *Service) TreeEntries(ctx context.Context, dir, name string) (int64, error) {
	var n int64
	err := s.queryRow(ctx, `SELECT count(*) FROM read_parquet($1)`, []any{s.TreeFile(dir, name)}, &n)
	if err != nil {
		return 0, fmt.Errorf("count %s/%s: %w", dir, name, err)
	}
	return n, nil
}

// SumColumn returns the sum of a numeric column of a tree.
func (s *Service) SumColumn(ctx context.Context, dir, name, column string) (float64, error) {
	var sum sql.NullFloat64
	query := fmt.Sprintf(`SELECT sum(CAST(%s AS DOUBLE)) FROM read_parquet($1)`, quoteIdent(column))
	if err := s.queryRow(ctx, query, []any{s.TreeFile(dir, name)}, &sum); err != nil {
		return 0, fmt.Errorf("sum %s in %s/%s: %w", column, dir, name, err)
	}
	return sum.Float64, nil
}

// Normalisations reads the meta-data tree at dir/name and returns one
// entry per simulated channel, ordered by channel number. Only the
// inclusive process (ProcessID 0) is summed.
func (s *Service) Normalisations(ctx context.Context, dir, name string) ([]Normalisation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT
			mcChannelNumber,
			CAST(sum(ProcessedEvents) AS BIGINT),
			sum(TotalSumW),
			max(xSection),
			max(kFactor),
			max(FilterEfficiency)
		FROM read_parquet($1)
		WHERE NOT isData AND ProcessID = 0
		GROUP BY mcChannelNumber
		ORDER BY mcChannelNumber
	`

	rows, err := s.db.QueryContext(ctx, query, s.TreeFile(dir, name))
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query meta-data: %w", err)
	}
	defer rows.Close()

	var out []Normalisation
	for rows.Next() {
		var n Normalisation
		var dsid int64
		if err := rows.Scan(&dsid, &n.ProcessedEvents, &n.SumW, &n.XSection, &n.KFactor, &n.FilterEfficiency); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		n.DSID = uint32(dsid)
		out = append(out, n)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(out))

	return out, rows.Err()
}

func (s *Service) queryRow(ctx context.Context, query string, args []any, dest ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		s.stats.Errors++
		return err
	}
	s.stats.QueriesExecuted++
	s.stats.RowsReturned++
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// ExecuteSQL executes a raw SQL query using DuckDB.
// This is useful for ad-hoc queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, rows.Err()
}
