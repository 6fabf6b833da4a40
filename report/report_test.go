package report

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hippocamp/thickpipe/overlap"
	"github.com/hippocamp/thickpipe/template"
)

var testGroups = []template.RegionGroup{
	{Name: "CA", Labels: []int{1, 2}},
	{Name: "DG", Labels: []int{3}},
}

func TestHeaderLayout(t *testing.T) {
	got := Header([]string{"CA", "DG"})

	want := []string{
		"ID", "Side", "TemplateType", "Group",
		"Mean_CA", "Median_CA", "Mean_DG", "Median_DG",
		"OVL_CA", "OVL_DG",
		"FULLOVL",
	}

	if len(got) != len(want) {
		t.Fatalf("expected %d columns, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestThicknessStats(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "thickness.csv")

	content := strings.Join([]string{
		"region,thickness",
		"1,2.0",
		"1,4.0",
		"2,6.0",
		"3,1.5",
		"0,99.0", // background vertices are in no grouping
		"",
	}, "\n")

	if err := os.WriteFile(dump, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	th, err := ThicknessStats(dump, testGroups)
	if err != nil {
		t.Fatal(err)
	}

	// CA = labels 1,2 -> values 2,4,6
	if math.Abs(th.Mean[0]-4) > 1e-12 || math.Abs(th.Median[0]-4) > 1e-12 {
		t.Fatalf("CA stats wrong: mean %v median %v", th.Mean[0], th.Median[0])
	}
	// DG = label 3 -> single value
	if math.Abs(th.Mean[1]-1.5) > 1e-12 || math.Abs(th.Median[1]-1.5) > 1e-12 {
		t.Fatalf("DG stats wrong: mean %v median %v", th.Mean[1], th.Median[1])
	}
}

func TestThicknessStatsEmptyGroupIsNaN(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "thickness.csv")
	if err := os.WriteFile(dump, []byte("region,thickness\n1,2.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	th, err := ThicknessStats(dump, testGroups)
	if err != nil {
		t.Fatal(err)
	}

	if !math.IsNaN(th.Mean[1]) || !math.IsNaN(th.Median[1]) {
		t.Fatalf("expected NaN for the vertexless group, got %v / %v", th.Mean[1], th.Median[1])
	}
}

func TestWriteCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "S01_left_thickness.csv")
	regions := []string{"CA", "DG"}

	rows := []Row{
		{
			ID: "S01", Side: "left", TemplateType: MultiTemp, Group: 2,
			Thickness: Thickness{Mean: []float64{2.5, 1.5}, Median: []float64{2.4, 1.5}},
			Overlap:   overlap.Result{PerGroup: []float64{0.9, math.NaN()}, Full: 0.85},
		},
		{
			ID: "S01", Side: "left", TemplateType: UniTemp, Group: 2,
			Thickness: Thickness{Mean: []float64{2.6, 1.4}, Median: []float64{2.55, 1.4}},
			Overlap:   overlap.Result{PerGroup: []float64{0.88, 0.8}, Full: 0.84},
		},
	}

	if err := WriteCSV(path, regions, rows); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}

	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d records", len(records))
	}

	header := records[0]
	for _, record := range records[1:] {
		if len(record) != len(header) {
			t.Fatalf("row width %d != header width %d", len(record), len(header))
		}
	}

	if records[1][0] != "S01" || records[1][2] != "MultiTemp" || records[1][3] != "2" {
		t.Fatalf("unexpected identity columns: %v", records[1][:4])
	}
	// NaN overlap renders as NA
	if records[1][9] != "NA" {
		t.Fatalf("expected NA for NaN overlap, got %q", records[1][9])
	}
}

func TestRowRecordRejectsWrongShape(t *testing.T) {
	row := Row{
		ID: "S01", Side: "left", TemplateType: MultiTemp, Group: 1,
		Thickness: Thickness{Mean: []float64{1}, Median: []float64{1}},
		Overlap:   overlap.Result{PerGroup: []float64{0.5}},
	}

	if _, err := row.Record([]string{"CA", "DG"}); err == nil {
		t.Fatal("expected an error for a row narrower than the region list")
	}
}

func TestCopyForward(t *testing.T) {
	dir := t.TempDir()

	src := filepath.Join(dir, "momenta.vtk")
	dst := filepath.Join(dir, "out", "S01_left_momenta.vtk")

	if err := os.WriteFile(src, []byte("momenta"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyForward(src, dst); err != nil {
		t.Fatal(err)
	}

	bts, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(bts) != "momenta" {
		t.Fatalf("unexpected copy content %q", bts)
	}

	// A missing source is not an error: that template type was never run
	if err := CopyForward(filepath.Join(dir, "never-made.vtk"), filepath.Join(dir, "out", "x.vtk")); err != nil {
		t.Fatal(err)
	}
}
