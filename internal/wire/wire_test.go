package wire

import (
	"bytes"
	"io"
	"reflect"
	"sync"
	"testing"
)

func TestWriter_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	tree, err := NewRecord(KindTree, map[string]any{
		"path":     "/XAMPP/Tree_Nominal",
		"entries":  int64(3),
		"branches": []string{"N_Jets", "eventNumber"},
	})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	histo, err := NewRecord(KindHisto, map[string]any{"path": "/XAMPP/Nominal/CutFlow"})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if err := w.Write(tree); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(histo); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.Records() != 2 {
		t.Errorf("Records() = %d, want 2", w.Records())
	}

	recs, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("read %d records, want 2", len(recs))
	}
	if Kind(recs[0]) != KindTree || String(recs[0], "path") != "/XAMPP/Tree_Nominal" {
		t.Errorf("first record = %v", recs[0])
	}
	if Number(recs[0], "entries") != 3 {
		t.Errorf("entries = %v, want 3", Number(recs[0], "entries"))
	}
	if got := Strings(recs[0], "branches"); !reflect.DeepEqual(got, []string{"N_Jets", "eventNumber"}) {
		t.Errorf("branches = %v", got)
	}
	if Kind(recs[1]) != KindHisto {
		t.Errorf("second record kind = %q", Kind(recs[1]))
	}
}

func TestReader_EOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	if _, err := r.Read(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecord(KindSummary, map[string]any{"sample": "ttbar"})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if err := NewWriter(&buf).Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data := buf.Bytes()[:buf.Len()-2]
	if _, err := NewReader(bytes.NewReader(data)).Read(); err == nil || err == io.EOF {
		t.Errorf("expected decode error for truncated record, got %v", err)
	}
}

func TestNewRecord_Unsupported(t *testing.T) {
	if _, err := NewRecord(KindTree, map[string]any{"bad": struct{}{}}); err == nil {
		t.Error("expected error for unsupported field type")
	}
}

func TestWriter_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := NewRecord(KindTree, map[string]any{"index": i})
			if err != nil {
				t.Errorf("NewRecord: %v", err)
				return
			}
			if err := w.Write(rec); err != nil {
				t.Errorf("Write: %v", err)
			}
		}(i)
	}
	wg.Wait()
	recs, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(recs) != 8 {
		t.Errorf("read %d records, want 8", len(recs))
	}
}
