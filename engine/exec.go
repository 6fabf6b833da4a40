package engine

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/kardianos/osext"
)

// Default binary names for the external tools; overridable per field when a
// site installs them under different names.
const (
	DefaultRegBin        = "greedy"
	DefaultImgBin        = "c3d"
	DefaultMeshBin       = "meshtool"
	DefaultShootBin      = "lmshoot"
	DefaultShootApplyBin = "lmtowarp"
)

// ExecTools implements every engine interface by spawning the external
// binaries as blocking subprocesses. Binaries are resolved in order: an
// explicit ToolDir, then $PATH, then the folder of the running executable
// (for bundled deployments).
type ExecTools struct {
	RegBin        string
	ImgBin        string
	MeshBin       string
	ShootBin      string
	ShootApplyBin string

	// ToolDir, when set, is the only place binaries are looked for.
	ToolDir string

	// run is swappable for argument-construction tests.
	run func(bin string, args ...string) error
}

func NewExecTools(toolDir string) *ExecTools {
	t := &ExecTools{
		RegBin:        DefaultRegBin,
		ImgBin:        DefaultImgBin,
		MeshBin:       DefaultMeshBin,
		ShootBin:      DefaultShootBin,
		ShootApplyBin: DefaultShootApplyBin,
		ToolDir:       toolDir,
	}
	t.run = t.execRun

	return t
}

func (t *ExecTools) resolve(bin string) string {
	if strings.ContainsRune(bin, os.PathSeparator) {
		return bin
	}

	if t.ToolDir != "" {
		return filepath.Join(t.ToolDir, bin)
	}

	if p, err := exec.LookPath(bin); err == nil {
		return p
	}

	// Fall back to the folder holding this executable
	if folder, err := osext.ExecutableFolder(); err == nil {
		candidate := filepath.Join(folder, bin)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return bin
}

func (t *ExecTools) execRun(bin string, args ...string) error {
	resolved := t.resolve(bin)

	out, err := exec.Command(resolved, args...).CombinedOutput()
	if err != nil {
		status := 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			status = exitErr.ExitCode()
		}

		return &RunError{
			Tool:   resolved,
			Args:   args,
			Status: status,
			Output: tail(string(out), 2048),
			Err:    err,
		}
	}

	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return "..." + s[len(s)-n:]
}

func threadArg(threads int) string {
	if threads < 1 {
		threads = 1
	}

	return strconv.Itoa(threads)
}

func (t *ExecTools) Affine(req AffineRequest) error {
	args := []string{"-d", "3", "-threads", threadArg(req.Threads), "-a", "-dof", "12", "-m", "SSD"}

	if req.MomentsInit {
		args = append(args, "-moments", "2")
	} else {
		args = append(args, "-ia-identity")
	}

	if req.Mask != "" {
		args = append(args, "-gm", req.Mask)
	}

	args = append(args, "-i", req.Fixed, req.Moving, "-n", "100x50x10", "-o", req.Out)

	return t.run(t.RegBin, args...)
}

func (t *ExecTools) Deformable(req DeformableRequest) error {
	args := []string{"-d", "3", "-threads", threadArg(req.Threads), "-m", "SSD"}

	if req.Mask != "" {
		args = append(args, "-gm", req.Mask)
	}
	if req.InitAffine != "" {
		args = append(args, "-it", req.InitAffine)
	}

	args = append(args, "-i", req.Fixed, req.Moving, "-n", "100x50x10", "-s", "2.0vox", "1.0vox", "-o", req.Out)

	return t.run(t.RegBin, args...)
}

func (t *ExecTools) Reslice(req ResliceRequest) error {
	args := []string{"-d", "3", "-threads", threadArg(req.Threads), "-rf", req.Reference}

	if req.Label {
		args = append(args, "-ri", "LABEL", "0.2vox")
	} else {
		args = append(args, "-ri", "LINEAR")
	}

	args = append(args, "-rm", req.Moving, req.Out, "-r")
	args = append(args, req.Transforms...)

	return t.run(t.RegBin, args...)
}

func (t *ExecTools) WarpPoints(req WarpPointsRequest) error {
	args := []string{"-d", "3", "-rf", req.Reference, "-rs", req.Points, req.Out, "-r"}
	args = append(args, req.Transforms...)

	return t.run(t.RegBin, args...)
}

func (t *ExecTools) UnionMask(req UnionMaskRequest) error {
	var args []string
	for i, in := range req.Inputs {
		args = append(args, in, "-binarize")
		if i > 0 {
			args = append(args, "-add", "-binarize")
		}
	}

	if req.DilateVoxels > 0 {
		args = append(args, "-dilate", "1", fmt.Sprintf("%dx%dx%dvox", req.DilateVoxels, req.DilateVoxels, req.DilateVoxels))
	}

	args = append(args, "-o", req.Out)

	return t.run(t.ImgBin, args...)
}

func (t *ExecTools) Binarize(req BinarizeRequest) error {
	labels := make([]string, 0, len(req.Labels))
	for _, l := range req.Labels {
		labels = append(labels, strconv.Itoa(l))
	}

	args := []string{req.In, "-retain-labels", strings.Join(labels, ","), "-binarize", "-o", req.Out}

	return t.run(t.ImgBin, args...)
}

func (t *ExecTools) Vote(req VoteRequest) error {
	args := append([]string{}, req.Inputs...)
	args = append(args, "-vote", "-background", strconv.Itoa(req.Background))

	for i, l := range req.Labels {
		args = append(args, "-vote-label", strconv.Itoa(i+1), strconv.Itoa(l))
	}

	args = append(args, "-o", req.Out)

	return t.run(t.ImgBin, args...)
}

func (t *ExecTools) DistanceMap(req DistanceMapRequest) error {
	return t.run(t.ImgBin, req.Mask, "-sdt", "-o", req.Out)
}

func (t *ExecTools) DistanceVote(req DistanceVoteRequest) error {
	args := append([]string{}, req.DistanceMaps...)
	args = append(args, "-vote-mrf", "VA", "0")

	for i, l := range req.Labels {
		args = append(args, "-vote-label", strconv.Itoa(i+1), strconv.Itoa(l))
	}

	args = append(args, req.ForegroundMask, "-multiply", "-o", req.Out)

	return t.run(t.ImgBin, args...)
}

func (t *ExecTools) Voxelize(req VoxelizeRequest) error {
	return t.run(t.MeshBin, "voxelize", "-ref", req.Reference, "-mesh", req.Mesh, "-o", req.Out)
}

func (t *ExecTools) TransformMesh(req TransformMeshRequest) error {
	args := []string{"transform", "-mesh", req.Mesh, "-matrix", req.Affine}
	if req.Invert {
		args = append(args, "-invert")
	}
	args = append(args, "-o", req.Out)

	return t.run(t.MeshBin, args...)
}

func (t *ExecTools) DumpAttributes(req DumpAttributesRequest) error {
	args := []string{"dump", "-mesh", req.Mesh, "-o", req.Out}
	for _, f := range req.Fields {
		args = append(args, "-array", f)
	}

	return t.run(t.MeshBin, args...)
}

func (t *ExecTools) ComputeMomenta(req MomentaRequest) error {
	if req.Params.TimeSteps < 1 || req.Params.Iterations < 1 {
		return pfx.Err(fmt.Errorf("shooting parameters not configured: %+v", req.Params))
	}

	// The shooting integrator is not parallelized; always one thread, no
	// matter how many cores the job was granted.
	args := []string{
		"-d", "3", "-threads", "1",
		"-m", req.TemplatePoints, req.TargetPoints,
		"-s", strconv.FormatFloat(req.Params.Sigma, 'g', -1, 64),
		"-l", strconv.FormatFloat(req.Params.Weight, 'g', -1, 64),
		"-n", strconv.Itoa(req.Params.TimeSteps),
		"-i", strconv.Itoa(req.Params.Iterations), "0",
		"-o", req.Out,
	}

	return t.run(t.ShootBin, args...)
}

func (t *ExecTools) ApplyMomenta(req ApplyMomentaRequest) error {
	args := []string{
		"-d", "3",
		"-m", req.Momenta,
		"-n", strconv.Itoa(req.TimeSteps),
		"-M", req.Mesh, req.Out,
	}

	return t.run(t.ShootApplyBin, args...)
}
