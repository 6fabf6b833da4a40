package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validConfig = `{
	"labels": [
		{"name": "CA1", "id": 1},
		{"name": "CA2", "id": 2},
		{"name": "DG", "id": 3},
		{"name": "SUB", "id": 4}
	],
	"region_groups": [
		{"name": "CA", "labels": [1, 2]},
		{"name": "DG", "labels": [3]},
		{"name": "SUB", "labels": [4]}
	],
	"background_label": 0,
	"shooting": {"sigma": 2.0, "weight": 0.5, "time_steps": 40, "iterations": 100}
}`

const validAtlases = "id\tgroup\natlas001\t1\natlas002\t2\natlas003\t2\n"

func writeTemplate(t *testing.T, config, atlases string) string {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "template.json"), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "atlases.tsv"), []byte(atlases), 0o644); err != nil {
		t.Fatal(err)
	}

	return dir
}

func TestLoad(t *testing.T) {
	dir := writeTemplate(t, validConfig, validAtlases)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if len(cfg.Labels) != 4 {
		t.Fatalf("expected 4 labels, got %d", len(cfg.Labels))
	}
	if got := cfg.RegionNames(); len(got) != 3 || got[0] != "CA" || got[2] != "SUB" {
		t.Fatalf("unexpected region names: %v", got)
	}
	if cfg.Shooting.TimeSteps != 40 {
		t.Fatalf("expected 40 time steps, got %d", cfg.Shooting.TimeSteps)
	}

	// Atlas order must match file order exactly
	if len(cfg.Atlases) != 3 {
		t.Fatalf("expected 3 atlases, got %d", len(cfg.Atlases))
	}
	if cfg.Atlases[0].ID != "atlas001" || cfg.Atlases[2].ID != "atlas003" {
		t.Fatalf("atlas order not preserved: %+v", cfg.Atlases)
	}
	if cfg.Atlases[1].Group != 2 {
		t.Fatalf("expected atlas002 in group 2, got %d", cfg.Atlases[1].Group)
	}
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	for _, tc := range []struct {
		name    string
		config  string
		atlases string
	}{
		{"no labels", `{"labels": [], "region_groups": [{"name":"CA","labels":[1]}], "shooting": {"sigma":2,"weight":0.5,"time_steps":40,"iterations":100}}`, validAtlases},
		{"no region groups", `{"labels": [{"name":"CA1","id":1}], "region_groups": [], "shooting": {"sigma":2,"weight":0.5,"time_steps":40,"iterations":100}}`, validAtlases},
		{"empty region group", `{"labels": [{"name":"CA1","id":1}], "region_groups": [{"name":"CA","labels":[]}], "shooting": {"sigma":2,"weight":0.5,"time_steps":40,"iterations":100}}`, validAtlases},
		{"zero time steps", `{"labels": [{"name":"CA1","id":1}], "region_groups": [{"name":"CA","labels":[1]}], "shooting": {"sigma":2,"weight":0.5,"time_steps":0,"iterations":100}}`, validAtlases},
		{"empty atlas list", validConfig, "id\tgroup\n"},
		{"duplicate atlas", validConfig, "id\tgroup\na1\t1\na1\t1\n"},
	} {
		dir := writeTemplate(t, tc.config, tc.atlases)
		if _, err := Load(dir); err == nil {
			t.Fatalf("%s: expected an error", tc.name)
		}
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent"))
	if err == nil {
		t.Fatal("expected an error for a missing template directory")
	}
}

func TestPathAccessors(t *testing.T) {
	dir := writeTemplate(t, validConfig, validAtlases)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}

	if got := cfg.AtlasSeg("atlas001", "left"); !strings.HasSuffix(got, filepath.Join("atlas", "atlas001", "left_seg.nii.gz")) {
		t.Fatalf("unexpected atlas seg path: %s", got)
	}
	if got := cfg.GroupDir(2); !strings.HasSuffix(got, "group02") {
		t.Fatalf("unexpected group dir: %s", got)
	}
	if got := cfg.AtlasProbMap("atlas002", "right", 3); !strings.HasSuffix(got, "right_prob03.nii.gz") {
		t.Fatalf("unexpected prob map path: %s", got)
	}
}
