package engine

import (
	"errors"
	"strings"
	"testing"

	"github.com/hippocamp/thickpipe/template"
)

type recorded struct {
	bin  string
	args []string
}

func recordingTools() (*ExecTools, *[]recorded) {
	calls := &[]recorded{}

	t := NewExecTools("")
	t.run = func(bin string, args ...string) error {
		*calls = append(*calls, recorded{bin: bin, args: args})
		return nil
	}

	return t, calls
}

func joined(c recorded) string {
	return c.bin + " " + strings.Join(c.args, " ")
}

func TestAffineArgs(t *testing.T) {
	tools, calls := recordingTools()

	err := tools.Affine(AffineRequest{
		Fixed:       "subj.nii.gz",
		Moving:      "atlas.nii.gz",
		Mask:        "union.nii.gz",
		Out:         "affine.mat",
		MomentsInit: true,
		Threads:     4,
	})
	if err != nil {
		t.Fatal(err)
	}

	got := joined((*calls)[0])
	for _, want := range []string{"-threads 4", "-moments 2", "-gm union.nii.gz", "-i subj.nii.gz atlas.nii.gz", "-o affine.mat"} {
		if !strings.Contains(got, want) {
			t.Fatalf("expected %q in command %q", want, got)
		}
	}
}

func TestAffineIdentityInit(t *testing.T) {
	tools, calls := recordingTools()

	if err := tools.Affine(AffineRequest{Fixed: "f", Moving: "m", Out: "o.mat"}); err != nil {
		t.Fatal(err)
	}

	got := joined((*calls)[0])
	if !strings.Contains(got, "-ia-identity") || strings.Contains(got, "-moments") {
		t.Fatalf("expected identity initializer, got %q", got)
	}
	// Unset thread count runs single-threaded rather than unbounded
	if !strings.Contains(got, "-threads 1") {
		t.Fatalf("expected -threads 1 default, got %q", got)
	}
}

func TestResliceTransformOrder(t *testing.T) {
	tools, calls := recordingTools()

	err := tools.Reslice(ResliceRequest{
		Reference:  "ref.nii.gz",
		Moving:     "prob01.nii.gz",
		Out:        "out.nii.gz",
		Transforms: []string{"warp.nii.gz", "affine.mat", "procrustes.mat,-1"},
		Label:      true,
	})
	if err != nil {
		t.Fatal(err)
	}

	got := joined((*calls)[0])
	if !strings.HasSuffix(got, "-r warp.nii.gz affine.mat procrustes.mat,-1") {
		t.Fatalf("transform order not preserved verbatim: %q", got)
	}
	if !strings.Contains(got, "-ri LABEL") {
		t.Fatalf("expected label interpolation: %q", got)
	}
}

func TestComputeMomentaAlwaysSingleThreaded(t *testing.T) {
	tools, calls := recordingTools()

	err := tools.ComputeMomenta(MomentaRequest{
		TemplatePoints: "root.txt",
		TargetPoints:   "target.txt",
		Out:            "momenta.vtk",
		Params:         template.ShootingParams{Sigma: 2, Weight: 0.5, TimeSteps: 40, Iterations: 100},
	})
	if err != nil {
		t.Fatal(err)
	}

	got := joined((*calls)[0])
	if !strings.Contains(got, "-threads 1") {
		t.Fatalf("shooting must be pinned to one thread: %q", got)
	}
	if !strings.Contains(got, "-n 40") || !strings.Contains(got, "-i 100 0") {
		t.Fatalf("shooting hyperparameters not passed through: %q", got)
	}
}

func TestComputeMomentaRejectsUnsetParams(t *testing.T) {
	tools, _ := recordingTools()

	err := tools.ComputeMomenta(MomentaRequest{TemplatePoints: "a", TargetPoints: "b", Out: "c"})
	if err == nil {
		t.Fatal("expected an error for zero-valued shooting parameters")
	}
}

func TestVoteLabelMapping(t *testing.T) {
	tools, calls := recordingTools()

	err := tools.Vote(VoteRequest{
		Inputs:     []string{"p1.nii.gz", "p2.nii.gz"},
		Labels:     []int{7, 9},
		Background: 0,
		Out:        "fused.nii.gz",
	})
	if err != nil {
		t.Fatal(err)
	}

	got := joined((*calls)[0])
	if !strings.Contains(got, "-vote-label 1 7") || !strings.Contains(got, "-vote-label 2 9") {
		t.Fatalf("vote index to label remap missing: %q", got)
	}
}

func TestUnionMaskArgs(t *testing.T) {
	tools, calls := recordingTools()

	err := tools.UnionMask(UnionMaskRequest{
		Inputs:       []string{"a.nii.gz", "b.nii.gz", "c.nii.gz"},
		DilateVoxels: 5,
		Out:          "union.nii.gz",
	})
	if err != nil {
		t.Fatal(err)
	}

	got := joined((*calls)[0])
	if strings.Count(got, "-add") != 2 {
		t.Fatalf("expected two -add operations for three inputs: %q", got)
	}
	if !strings.Contains(got, "-dilate 1 5x5x5vox") {
		t.Fatalf("dilation radius missing: %q", got)
	}
	if !strings.Contains(got, "-o union.nii.gz") {
		t.Fatalf("output missing: %q", got)
	}
}

func TestUnionMaskNoDilation(t *testing.T) {
	tools, calls := recordingTools()

	if err := tools.UnionMask(UnionMaskRequest{Inputs: []string{"a.nii.gz"}, Out: "u.nii.gz"}); err != nil {
		t.Fatal(err)
	}

	if got := joined((*calls)[0]); strings.Contains(got, "-dilate") {
		t.Fatalf("unexpected dilation: %q", got)
	}
}

func TestExitStatus(t *testing.T) {
	base := errors.New("boom")
	wrapped := &RunError{Tool: "greedy", Args: []string{"-d", "3"}, Status: 42, Err: base}

	if status, ok := ExitStatus(wrapped); !ok || status != 42 {
		t.Fatalf("expected (42, true), got (%d, %v)", status, ok)
	}

	if _, ok := ExitStatus(base); ok {
		t.Fatal("plain errors must not report an exit status")
	}

	if !errors.Is(wrapped, base) {
		t.Fatal("RunError must unwrap to its cause")
	}
}

func TestResolvePrefersToolDir(t *testing.T) {
	tools := NewExecTools("/opt/regtools")

	if got := tools.resolve("greedy"); got != "/opt/regtools/greedy" {
		t.Fatalf("expected tool dir resolution, got %s", got)
	}

	// Explicit paths pass through untouched
	if got := tools.resolve("/usr/local/bin/greedy"); got != "/usr/local/bin/greedy" {
		t.Fatalf("expected pass-through, got %s", got)
	}
}
