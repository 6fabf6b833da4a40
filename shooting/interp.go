// Package shooting drives the geodesic shooting interpolation for one
// subject/side/template-type: extract the target landmarks in subject space,
// rigidly park them near the template root, fit a momenta field, carry every
// template region mesh onto the subject, and fuse the voxelized regions into
// one multi-label segmentation. Every transition is a memoized artifact
// step, so a multi-hour run that dies mid-way resumes at the first
// incomplete transition.
package shooting

import (
	"fmt"

	"github.com/hippocamp/thickpipe/artifact"
	"github.com/hippocamp/thickpipe/chain"
	"github.com/hippocamp/thickpipe/engine"
	"github.com/hippocamp/thickpipe/procrustes"
	"github.com/hippocamp/thickpipe/template"
)

// State is how far the interpolation has progressed, derived entirely from
// which artifacts exist on disk.
type State int

const (
	NotStarted State = iota
	TargetExtracted
	ProcrustesAligned
	MomentaComputed
	TemplateWarped
	LabelsFused
	Done
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case TargetExtracted:
		return "TargetExtracted"
	case ProcrustesAligned:
		return "ProcrustesAligned"
	case MomentaComputed:
		return "MomentaComputed"
	case TemplateWarped:
		return "TemplateWarped"
	case LabelsFused:
		return "LabelsFused"
	case Done:
		return "Done"
	}

	return fmt.Sprintf("State(%d)", int(s))
}

// An Interp runs the interpolation against one template (a group's variant
// template or the unified template). StageDir namespaces its artifacts
// within the store so the variant and unified runs never collide.
type Interp struct {
	Store  *artifact.Store
	Reg    engine.Registration
	Img    engine.ImageMath
	Mesh   engine.MeshTool
	Shoot  engine.Shooting
	Config template.Config

	SubjectSeg  string
	Side        string
	TemplateDir string
	StageDir    string
	ChainFile   string
	Threads     int
}

func (ip Interp) path(name string) string {
	return ip.Store.Path(ip.StageDir, name)
}

// FusedSeg is the terminal multi-label segmentation in subject space.
func (ip Interp) FusedSeg() string { return ip.path("fused_seg.nii.gz") }

// FittedMesh is the template thickness mesh carried into subject space.
func (ip Interp) FittedMesh() string { return ip.path("fitted_thickness.vtk") }

// Momenta is the fitted momenta field.
func (ip Interp) Momenta() string { return ip.path("momenta.vtk") }

func (ip Interp) targetLandmarks() string  { return ip.path("target_landmarks.txt") }
func (ip Interp) procrustesMat() string    { return ip.path("procrustes.mat") }
func (ip Interp) alignedLandmarks() string { return ip.path("aligned_landmarks.txt") }

func (ip Interp) regionMask(label int) string {
	return ip.path(fmt.Sprintf("mask%02d.nii.gz", label))
}

// State inspects the artifact trail. Used for logging and by tests; Run
// itself relies only on per-artifact memoization.
func (ip Interp) State() State {
	switch {
	case ip.Store.Has(ip.FusedSeg()):
		return Done
	case ip.allMasksPresent() && ip.Store.Has(ip.FittedMesh()):
		return TemplateWarped
	case ip.Store.Has(ip.Momenta()):
		return MomentaComputed
	case ip.Store.Has(ip.procrustesMat()) && ip.Store.Has(ip.alignedLandmarks()):
		return ProcrustesAligned
	case ip.Store.Has(ip.targetLandmarks()):
		return TargetExtracted
	}

	return NotStarted
}

func (ip Interp) allMasksPresent() bool {
	for _, label := range ip.Config.Labels {
		if !ip.Store.Has(ip.regionMask(label.ID)) {
			return false
		}
	}

	return true
}

// Run advances the state machine to Done.
func (ip Interp) Run() error {
	ch, err := chain.Load(ip.ChainFile)
	if err != nil {
		return err
	}

	if err := ip.extractTarget(ch); err != nil {
		return err
	}
	if err := ip.alignTarget(); err != nil {
		return err
	}
	if err := ip.computeMomenta(); err != nil {
		return err
	}
	if err := ip.warpTemplate(); err != nil {
		return err
	}

	return ip.fuseLabels()
}

func (ip Interp) extractTarget(ch chain.Chain) error {
	target := ip.targetLandmarks()

	return ip.Store.Ensure(target, func() error {
		return ip.Reg.WarpPoints(engine.WarpPointsRequest{
			Points:     ip.Config.RootLandmarks(ip.TemplateDir, ip.Side),
			Reference:  ip.SubjectSeg,
			Out:        target,
			Transforms: ch.Args(),
		})
	})
}

// alignTarget rigidly parks the extracted landmarks near the template root.
// Shooting is ill-conditioned without this. The rigid matrix is kept with an
// explicit inverse flag for the trip back to subject space; its numeric
// inverse is never materialized.
func (ip Interp) alignTarget() error {
	proMat := ip.procrustesMat()
	aligned := ip.alignedLandmarks()

	return ip.Store.EnsureAll([]string{proMat, aligned}, func() error {
		target, err := LoadPoints(ip.targetLandmarks())
		if err != nil {
			return err
		}

		root, err := LoadPoints(ip.Config.RootLandmarks(ip.TemplateDir, ip.Side))
		if err != nil {
			return err
		}

		m, err := procrustes.RigidAlign(target, root)
		if err != nil {
			return err
		}

		if err := chain.SaveAffine(proMat, m); err != nil {
			return err
		}

		alignedPts, err := chain.Chain{{Path: proMat}}.ApplyAffine(target)
		if err != nil {
			return err
		}

		return SavePoints(aligned, alignedPts)
	})
}

func (ip Interp) computeMomenta() error {
	momenta := ip.Momenta()

	return ip.Store.Ensure(momenta, func() error {
		return ip.Shoot.ComputeMomenta(engine.MomentaRequest{
			TemplatePoints: ip.Config.RootLandmarks(ip.TemplateDir, ip.Side),
			TargetPoints:   ip.alignedLandmarks(),
			Out:            momenta,
			Params:         ip.Config.Shooting,
		})
	})
}

// warpTemplate carries every region mesh and the thickness mesh through the
// momenta field, undoes the Procrustes alignment to land in subject space,
// and voxelizes each region onto the subject grid.
func (ip Interp) warpTemplate() error {
	for _, label := range ip.Config.Labels {
		label := label

		shot := ip.path(fmt.Sprintf("region%02d_shot.vtk", label.ID))
		if err := ip.Store.Ensure(shot, func() error {
			return ip.Shoot.ApplyMomenta(engine.ApplyMomentaRequest{
				Momenta:   ip.Momenta(),
				Mesh:      ip.Config.RegionMesh(ip.TemplateDir, ip.Side, label.ID),
				Out:       shot,
				TimeSteps: ip.Config.Shooting.TimeSteps,
			})
		}); err != nil {
			return err
		}

		subjMesh := ip.path(fmt.Sprintf("region%02d_subj.vtk", label.ID))
		if err := ip.Store.Ensure(subjMesh, func() error {
			return ip.Mesh.TransformMesh(engine.TransformMeshRequest{
				Mesh:   shot,
				Affine: ip.procrustesMat(),
				Invert: true,
				Out:    subjMesh,
			})
		}); err != nil {
			return err
		}

		mask := ip.regionMask(label.ID)
		if err := ip.Store.Ensure(mask, func() error {
			return ip.Mesh.Voxelize(engine.VoxelizeRequest{
				Mesh:      subjMesh,
				Reference: ip.SubjectSeg,
				Out:       mask,
			})
		}); err != nil {
			return err
		}
	}

	shotThickness := ip.path("thickness_shot.vtk")
	if err := ip.Store.Ensure(shotThickness, func() error {
		return ip.Shoot.ApplyMomenta(engine.ApplyMomentaRequest{
			Momenta:   ip.Momenta(),
			Mesh:      ip.Config.ThicknessMesh(ip.TemplateDir, ip.Side),
			Out:       shotThickness,
			TimeSteps: ip.Config.Shooting.TimeSteps,
		})
	}); err != nil {
		return err
	}

	fitted := ip.FittedMesh()

	return ip.Store.Ensure(fitted, func() error {
		return ip.Mesh.TransformMesh(engine.TransformMeshRequest{
			Mesh:   shotThickness,
			Affine: ip.procrustesMat(),
			Invert: true,
			Out:    fitted,
		})
	})
}

// fuseLabels votes the voxelized regions into one segmentation: closest
// boundary wins on signed distance, with background masked out before the
// vote and multiplied back in afterward.
func (ip Interp) fuseLabels() error {
	distances := make([]string, 0, len(ip.Config.Labels))
	labels := make([]int, 0, len(ip.Config.Labels))
	masks := make([]string, 0, len(ip.Config.Labels))

	for _, label := range ip.Config.Labels {
		label := label

		dist := ip.path(fmt.Sprintf("dist%02d.nii.gz", label.ID))
		if err := ip.Store.Ensure(dist, func() error {
			return ip.Img.DistanceMap(engine.DistanceMapRequest{
				Mask: ip.regionMask(label.ID),
				Out:  dist,
			})
		}); err != nil {
			return err
		}

		distances = append(distances, dist)
		labels = append(labels, label.ID)
		masks = append(masks, ip.regionMask(label.ID))
	}

	foreground := ip.path("foreground.nii.gz")
	if err := ip.Store.Ensure(foreground, func() error {
		return ip.Img.UnionMask(engine.UnionMaskRequest{
			Inputs: masks,
			Out:    foreground,
		})
	}); err != nil {
		return err
	}

	fused := ip.FusedSeg()

	return ip.Store.Ensure(fused, func() error {
		return ip.Img.DistanceVote(engine.DistanceVoteRequest{
			DistanceMaps:   distances,
			Labels:         labels,
			ForegroundMask: foreground,
			Out:            fused,
		})
	})
}
