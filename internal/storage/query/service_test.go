package query

import (
	"context"
	"math"
	"reflect"
	"testing"

	"github.com/xtxerr/ntuple/internal/storage"
	"github.com/xtxerr/ntuple/internal/storage/parquet"
)

func writeTree(t *testing.T, root, dir, name string, columns []storage.Column, rows [][]any) {
	t.Helper()
	backend, err := parquet.NewBackend(root, parquet.DefaultOptions())
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	w, err := backend.CreateTree(dir, name, columns)
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(nil); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestService_ExecuteSQL(t *testing.T) {
	svc, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	results, err := svc.ExecuteSQL(context.Background(), "SELECT 1 AS value")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	stats := svc.Stats()
	if stats.QueriesExecuted != 1 {
		t.Errorf("expected 1 query executed, got %d", stats.QueriesExecuted)
	}
}

func TestService_TreeEntriesAndSum(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "XAMPP", "Tree_Nominal", []storage.Column{
		{Name: "N_Jets", Type: reflect.TypeOf(int32(0))},
		{Name: "GenWeight", Type: reflect.TypeOf(float64(0))},
	}, [][]any{
		{int32(3), 1.5},
		{int32(1), -0.5},
		{int32(2), 2.0},
	})

	svc, err := New(root, Options{MemoryLimit: "256MB"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()
	ctx := context.Background()

	n, err := svc.TreeEntries(ctx, "XAMPP", "Tree_Nominal")
	if err != nil {
		t.Fatalf("TreeEntries: %v", err)
	}
	if n != 3 {
		t.Errorf("TreeEntries() = %d, want 3", n)
	}

	sum, err := svc.SumColumn(ctx, "XAMPP", "Tree_Nominal", "GenWeight")
	if err != nil {
		t.Fatalf("SumColumn: %v", err)
	}
	if math.Abs(sum-3.0) > 1e-12 {
		t.Errorf("SumColumn() = %v, want 3", sum)
	}

	if _, err := svc.TreeEntries(ctx, "XAMPP", "Missing"); err == nil {
		t.Error("expected error for missing tree")
	}
	if svc.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", svc.Stats().Errors)
	}
}

func TestService_Normalisations(t *testing.T) {
	root := t.TempDir()
	columns := []storage.Column{
		{Name: "isData", Type: reflect.TypeOf(false)},
		{Name: "mcChannelNumber", Type: reflect.TypeOf(uint32(0))},
		{Name: "ProcessID", Type: reflect.TypeOf(uint32(0))},
		{Name: "ProcessedEvents", Type: reflect.TypeOf(uint64(0))},
		{Name: "TotalSumW", Type: reflect.TypeOf(float64(0))},
		{Name: "xSection", Type: reflect.TypeOf(float64(0))},
		{Name: "kFactor", Type: reflect.TypeOf(float64(0))},
		{Name: "FilterEfficiency", Type: reflect.TypeOf(float64(0))},
	}
	writeTree(t, root, "", "MetaDataTree", columns, [][]any{
		{false, uint32(410470), uint32(0), uint64(10), 20.0, 700.0, 1.1, 0.5},
		{false, uint32(410470), uint32(0), uint64(5), 10.0, 700.0, 1.1, 0.5},
		{false, uint32(410470), uint32(1001), uint64(15), 99.0, 700.0, 1.1, 0.5},
		{false, uint32(364100), uint32(0), uint64(4), 4.0, 10.0, 1.0, 1.0},
		{true, uint32(0), uint32(0), uint64(7), 0.0, 0.0, 0.0, 0.0},
	})

	svc, err := New(root, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	norms, err := svc.Normalisations(context.Background(), "", "MetaDataTree")
	if err != nil {
		t.Fatalf("Normalisations: %v", err)
	}
	if len(norms) != 2 {
		t.Fatalf("got %d channels, want 2", len(norms))
	}
	if norms[0].DSID != 364100 || norms[1].DSID != 410470 {
		t.Errorf("channels = %d, %d", norms[0].DSID, norms[1].DSID)
	}
	ttbar := norms[1]
	if ttbar.ProcessedEvents != 15 || ttbar.SumW != 30 {
		t.Errorf("ttbar = %+v", ttbar)
	}
	want := 700.0 * 1.1 * 0.5 / 30
	if math.Abs(ttbar.LumiWeight()-want) > 1e-12 {
		t.Errorf("LumiWeight() = %v, want %v", ttbar.LumiWeight(), want)
	}
	if (Normalisation{}).LumiWeight() != 0 {
		t.Error("zero sum of weights should give weight 0")
	}
}
