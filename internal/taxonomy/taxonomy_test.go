package taxonomy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kviflow/kviflow/internal/logging"
)

func TestLoadEmbedded(t *testing.T) {
	tax, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(tax.Categories()); got != 12 {
		t.Errorf("main categories = %d, want 12", got)
	}
}

func TestCategoryNames(t *testing.T) {
	tax, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	main, sub := tax.CategoryNames("01", "011")
	if main != "Environmental Sustainability" {
		t.Errorf("main = %q", main)
	}
	if sub != "Smart Agriculture & Ecosystem Preservation" {
		t.Errorf("sub = %q", sub)
	}

	main, sub = tax.CategoryNames("99", "991")
	if main != "Unknown (99)" || sub != "Unknown (991)" {
		t.Errorf("unknown fallback = %q, %q", main, sub)
	}

	main, sub = tax.CategoryNames("01", "999")
	if main != "Environmental Sustainability" || sub != "Unknown (999)" {
		t.Errorf("partial fallback = %q, %q", main, sub)
	}
}

func TestIndicatorsOrderedAndStable(t *testing.T) {
	tax, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	inds := tax.Indicators("01", "011")
	if len(inds) == 0 {
		t.Fatal("no indicators for 01/011")
	}
	if inds[0].Code != "IWCA" {
		t.Errorf("first indicator = %s, want IWCA", inds[0].Code)
	}

	again := tax.Indicators("01", "011")
	for i := range inds {
		if inds[i] != again[i] {
			t.Fatalf("indicator order not stable at %d", i)
		}
	}

	if got := tax.Indicators("01", "nope"); got != nil {
		t.Errorf("unknown subcategory indicators = %v, want nil", got)
	}
}

func TestDescribe(t *testing.T) {
	tax, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if desc := tax.Describe("12", "122"); !strings.Contains(desc, "trust") {
		t.Errorf("Describe(12,122) = %q", desc)
	}
	if desc := tax.Describe("12", "999"); desc != "" {
		t.Errorf("unknown Describe = %q, want empty", desc)
	}
}

func TestOverviewContainsAllSubcategories(t *testing.T) {
	tax, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	overview := tax.Overview()
	for _, cat := range tax.Categories() {
		if !strings.Contains(overview, cat.Name) {
			t.Errorf("overview missing category %s", cat.Name)
		}
		for _, sub := range cat.Subcategories {
			if !strings.Contains(overview, sub.ID+": "+sub.Name) {
				t.Errorf("overview missing subcategory %s", sub.ID)
			}
		}
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile("/nonexistent/taxonomy.yaml"); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("categories: 42"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected error for malformed yaml")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("categories: []"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(empty); err == nil {
		t.Error("expected error for empty taxonomy")
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	writeTaxonomy(t, path, "Original Name")

	w, err := NewWatcher(path, logging.NewNop())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if main, _ := w.CategoryNames("01", "011"); main != "Original Name" {
		t.Fatalf("initial name = %q", main)
	}

	writeTaxonomy(t, path, "Updated Name")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if main, _ := w.CategoryNames("01", "011"); main == "Updated Name" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("taxonomy was not reloaded after file change")
}

func TestWatcherKeepsSnapshotOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taxonomy.yaml")
	writeTaxonomy(t, path, "Original Name")

	w, err := NewWatcher(path, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("categories: 42"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Give the watcher time to observe the bad write.
	time.Sleep(500 * time.Millisecond)
	if main, _ := w.CategoryNames("01", "011"); main != "Original Name" {
		t.Errorf("snapshot after bad reload = %q, want previous data kept", main)
	}
}

func writeTaxonomy(t *testing.T, path, mainName string) {
	t.Helper()
	content := `categories:
  - id: "01"
    name: "` + mainName + `"
    subcategories:
      - id: "011"
        name: "Sub"
        description: "desc"
        indicators:
          - code: "AAAA"
            title: "Indicator"
            description: "d"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
