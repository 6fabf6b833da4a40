package chain

import (
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAppendPrependPreserveOrder(t *testing.T) {
	base := Chain{{Path: "a.mat"}, {Path: "warp.nii.gz"}}

	appended := base.Append(Entry{Path: "b.mat"})
	prepended := appended.Prepend(Entry{Path: "root.mat", Invert: true})

	want := []string{"root.mat,-1", "a.mat", "warp.nii.gz", "b.mat"}
	got := prepended.Args()

	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	// The original chain must be untouched
	if len(base) != 2 || base[0].Path != "a.mat" {
		t.Fatalf("Append/Prepend mutated the receiver: %v", base.Args())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chain_to_template.txt")

	original := Chain{
		{Path: "/tpl/atlas003/warp.nii.gz"},
		{Path: "/tpl/atlas003/affine.mat"},
		{Path: "/work/procrustes.mat", Invert: true},
	}

	if err := original.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(loaded) != len(original) {
		t.Fatalf("expected %d entries, got %d", len(original), len(loaded))
	}
	for i := range original {
		if loaded[i] != original[i] {
			t.Fatalf("entry %d: expected %+v, got %+v", i, original[i], loaded[i])
		}
	}
}

func writeAffine(t *testing.T, dir, name string, vals []float64) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := SaveAffine(path, mat.NewDense(4, 4, vals)); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestApplyAffineComposition(t *testing.T) {
	dir := t.TempDir()

	// Translation by (1, 2, 3)
	translate := writeAffine(t, dir, "translate.mat", []float64{
		1, 0, 0, 1,
		0, 1, 0, 2,
		0, 0, 1, 3,
		0, 0, 0, 1,
	})

	// Uniform scale by 2
	scale := writeAffine(t, dir, "scale.mat", []float64{
		2, 0, 0, 0,
		0, 2, 0, 0,
		0, 0, 2, 0,
		0, 0, 0, 1,
	})

	points := [][3]float64{{1, 1, 1}, {0, -2, 5}}

	// Apply the whole chain at once
	full := Chain{{Path: translate}, {Path: scale}}
	composed, err := full.ApplyAffine(points)
	if err != nil {
		t.Fatal(err)
	}

	// Apply each sub-chain in sequence
	step1, err := Chain{{Path: translate}}.ApplyAffine(points)
	if err != nil {
		t.Fatal(err)
	}
	sequential, err := Chain{{Path: scale}}.ApplyAffine(step1)
	if err != nil {
		t.Fatal(err)
	}

	for i := range points {
		for d := 0; d < 3; d++ {
			if math.Abs(composed[i][d]-sequential[i][d]) > 1e-12 {
				t.Fatalf("point %d dim %d: chain application not associative: %v vs %v", i, d, composed[i], sequential[i])
			}
		}
	}

	// Spot check the actual values: translate then scale
	if composed[0] != [3]float64{4, 6, 8} {
		t.Fatalf("expected (4,6,8), got %v", composed[0])
	}
}

func TestApplyAffineInverseFlag(t *testing.T) {
	dir := t.TempDir()

	translate := writeAffine(t, dir, "translate.mat", []float64{
		1, 0, 0, 10,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})

	forwardThenBack := Chain{{Path: translate}, {Path: translate, Invert: true}}
	out, err := forwardThenBack.ApplyAffine([][3]float64{{5, 5, 5}})
	if err != nil {
		t.Fatal(err)
	}

	if math.Abs(out[0][0]-5) > 1e-12 || math.Abs(out[0][1]-5) > 1e-12 || math.Abs(out[0][2]-5) > 1e-12 {
		t.Fatalf("inverse-flagged entry did not cancel its forward application: %v", out[0])
	}
}

func TestCollapseRejectsWarpEntries(t *testing.T) {
	c := Chain{{Path: "warp.nii.gz"}}
	if _, err := c.Collapse(); err == nil {
		t.Fatal("expected an error collapsing a chain containing a deformation field")
	}
}
