package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rewired-gh/vaxoracle/internal/models"
)

func mustStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var sampleRows = []models.Row{
	{Date: "2021-04-24", CumFirstDosePct: 63.7, CumSecondDosePct: 20.1},
	{Date: "2021-04-23", CumFirstDosePct: 63.5, CumSecondDosePct: 19.4},
}

func day(s string) time.Time {
	d, _ := time.Parse(models.DateLayout, s)
	return d
}

func TestStorage_SaveAndLoad(t *testing.T) {
	s := mustStorage(t)
	ctx := context.Background()

	if err := s.SaveDataset(ctx, "United Kingdom", day("2021-04-25"), sampleRows); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}

	rows, found, err := s.LoadDataset(ctx, "United Kingdom", day("2021-04-25"))
	if err != nil {
		t.Fatalf("LoadDataset failed: %v", err)
	}
	if !found {
		t.Fatal("Expected dataset to be found")
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	// Rows come back in date order
	if rows[0] != sampleRows[1] || rows[1] != sampleRows[0] {
		t.Errorf("Unexpected rows: %+v", rows)
	}
}

func TestStorage_LoadMissing(t *testing.T) {
	s := mustStorage(t)
	ctx := context.Background()

	if err := s.SaveDataset(ctx, "United Kingdom", day("2021-04-25"), sampleRows); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}

	for _, tc := range []struct {
		area string
		day  string
	}{
		{"United Kingdom", "2021-04-26"},
		{"Scotland", "2021-04-25"},
	} {
		_, found, err := s.LoadDataset(ctx, tc.area, day(tc.day))
		if err != nil {
			t.Fatalf("LoadDataset failed: %v", err)
		}
		if found {
			t.Errorf("Expected no dataset for %s on %s", tc.area, tc.day)
		}
	}
}

func TestStorage_SaveReplacesSameDay(t *testing.T) {
	s := mustStorage(t)
	ctx := context.Background()
	d := day("2021-04-25")

	if err := s.SaveDataset(ctx, "United Kingdom", d, sampleRows); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}
	if err := s.SaveDataset(ctx, "United Kingdom", d, sampleRows[:1]); err != nil {
		t.Fatalf("second SaveDataset failed: %v", err)
	}

	rows, _, err := s.LoadDataset(ctx, "United Kingdom", d)
	if err != nil {
		t.Fatalf("LoadDataset failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("Expected replaced dataset with 1 row, got %d", len(rows))
	}

	infos, err := s.ListDatasets(ctx, "United Kingdom")
	if err != nil {
		t.Fatalf("ListDatasets failed: %v", err)
	}
	if len(infos) != 1 || infos[0].RowCount != 1 {
		t.Errorf("Unexpected datasets: %+v", infos)
	}
}

func TestStorage_PruneDatasets(t *testing.T) {
	s := mustStorage(t)
	ctx := context.Background()

	for _, d := range []string{"2021-04-20", "2021-04-21", "2021-04-22", "2021-04-23"} {
		if err := s.SaveDataset(ctx, "United Kingdom", day(d), sampleRows); err != nil {
			t.Fatalf("SaveDataset failed: %v", err)
		}
	}
	if err := s.SaveDataset(ctx, "Wales", day("2021-04-01"), sampleRows); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}

	if err := s.PruneDatasets(ctx, "United Kingdom", 2); err != nil {
		t.Fatalf("PruneDatasets failed: %v", err)
	}

	infos, err := s.ListDatasets(ctx, "United Kingdom")
	if err != nil {
		t.Fatalf("ListDatasets failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 datasets after prune, got %d", len(infos))
	}
	if infos[0].FetchedOn != "2021-04-23" || infos[1].FetchedOn != "2021-04-22" {
		t.Errorf("Pruned the wrong datasets: %+v", infos)
	}

	if _, found, _ := s.LoadDataset(ctx, "United Kingdom", day("2021-04-20")); found {
		t.Error("Expected oldest dataset to be pruned")
	}
	if _, found, _ := s.LoadDataset(ctx, "Wales", day("2021-04-01")); !found {
		t.Error("Prune removed another area's dataset")
	}

	if err := s.PruneDatasets(ctx, "United Kingdom", 0); err == nil {
		t.Error("Expected error for keep=0")
	}
}

func TestStorage_FilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cache.db")
	ctx := context.Background()

	s, err := New(path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.SaveDataset(ctx, "United Kingdom", day("2021-04-25"), sampleRows); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	rows, found, err := reopened.LoadDataset(ctx, "United Kingdom", day("2021-04-25"))
	if err != nil || !found || len(rows) != 2 {
		t.Errorf("Expected persisted dataset, got found=%v rows=%d err=%v", found, len(rows), err)
	}
}

func TestNew_RequiresPath(t *testing.T) {
	if _, err := New(" "); err == nil {
		t.Error("Expected error for empty path")
	}
}
