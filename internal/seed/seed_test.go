package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/storage/memory"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "universities.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestApplyFileIsIdempotent(t *testing.T) {
	logger.Use(zap.NewNop())
	path := writeFile(t, `
universities:
  - name: Northfield University
    code: nfu
  - name: Lakeside Institute
    code: LSI
`)
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	res, err := ApplyFile(ctx, store, path, now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 2 || res.Skipped != 0 {
		t.Fatalf("first run = %+v", res)
	}
	res, err = ApplyFile(ctx, store, path, now)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != 0 || res.Skipped != 2 {
		t.Fatalf("second run = %+v", res)
	}

	list, _ := store.ListUniversities(ctx)
	if len(list) != 2 || list[0].Name != "Lakeside Institute" || list[1].Code != "NFU" {
		t.Fatalf("universities = %+v", list)
	}
}

func TestLoadRejectsIncompleteEntries(t *testing.T) {
	path := writeFile(t, "universities:\n  - name: Nameless\n")
	if _, err := Load(path); err == nil {
		t.Fatal("entry without code accepted")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
