package pipeline

import (
	"log"
	"path/filepath"

	"github.com/hippocamp/thickpipe/chain"
	"github.com/hippocamp/thickpipe/engine"
	"github.com/hippocamp/thickpipe/report"
	"github.com/hippocamp/thickpipe/selector"
	"github.com/hippocamp/thickpipe/shooting"
)

func (r *Run) simRowPath() string     { return r.store.Path("atlasreg", "similarity.tsv") }
func (r *Run) rankingPath() string    { return r.store.Path("membership", "ranking.txt") }
func (r *Run) membershipPath() string { return r.store.Path("membership", "membership.json") }

func (r *Run) chainPath(dir string) string {
	return r.store.Path(dir, "chain_to_template.txt")
}

func (r *Run) interp(stageDir, templateDir string) shooting.Interp {
	chainDir := "multireg"
	if stageDir == "unishoot" {
		chainDir = "unireg"
	}

	return shooting.Interp{
		Store:  r.store,
		Reg:    r.eng.Reg,
		Img:    r.eng.Img,
		Mesh:   r.eng.Mesh,
		Shoot:  r.eng.Shoot,
		Config: r.tpl,

		SubjectSeg:  r.subjectSeg,
		Side:        r.cfg.Subject.Side,
		TemplateDir: templateDir,
		StageDir:    stageDir,
		ChainFile:   r.chainPath(chainDir),
		Threads:     r.cfg.Threads,
	}
}

func (r *Run) shootOutputs(stageDir string) []string {
	ip := shooting.Interp{Store: r.store, StageDir: stageDir}

	return []string{ip.FusedSeg(), ip.FittedMesh()}
}

func (r *Run) evalOutputs(evalDir string) []string {
	return []string{
		r.store.Path(evalDir, "thickness_dump.csv"),
		r.store.Path(evalDir, "overlap.tsv"),
	}
}

func (r *Run) assignment() (selector.GroupAssignment, error) {
	return selector.LoadAssignment(r.membershipPath())
}

// stageAtlasReg computes the subject's similarity row: one pairwise
// registration and overlap score per atlas in the population.
func (r *Run) stageAtlasReg() error {
	sim := r.simRowPath()

	return r.store.Ensure(sim, func() error {
		rc := selector.RowComputer{
			Store:  r.store,
			Reg:    r.eng.Reg,
			Img:    r.eng.Img,
			Config: r.tpl,

			SubjectSeg: r.subjectSeg,
			Side:       r.cfg.Subject.Side,
			Threads:    r.cfg.Threads,

			Score: func(fused, atlasSeg string) (float64, error) {
				res, err := r.overlap(fused, atlasSeg)
				return res.Full, err
			},
		}

		row, err := rc.ComputeRow()
		if err != nil {
			return err
		}

		return selector.SaveRow(sim, r.tpl.Atlases, row)
	})
}

// stageMembership classifies the subject into a template group from the
// similarity row. The assignment is written exactly once; re-running the
// stage never reclassifies.
func (r *Run) stageMembership() error {
	return r.store.Ensure(r.membershipPath(), func() error {
		row, err := selector.LoadRow(r.simRowPath(), r.tpl.Atlases)
		if err != nil {
			return err
		}

		ga, err := r.classifier.Classify(row, r.tpl.Atlases)
		if err != nil {
			return err
		}

		log.Printf("assigned %s/%s to group %d via atlas %s",
			r.cfg.Subject.ID, r.cfg.Subject.Side, ga.Group, r.tpl.Atlases[ga.NearestAtlas].ID)

		if err := selector.SaveRanking(r.rankingPath(), r.tpl.Atlases, row); err != nil {
			return err
		}

		return selector.SaveAssignment(r.membershipPath(), ga)
	})
}

// stageMultiReg builds the subject-to-group-template transform chain:
// register the subject onto its nearest atlas, splice those transforms onto
// the atlas's precomputed chain to the group root, then fit a refinement
// warp in root space.
func (r *Run) stageMultiReg() error {
	ga, err := r.assignment()
	if err != nil {
		return err
	}

	atlas := r.tpl.Atlases[ga.NearestAtlas]
	side := r.cfg.Subject.Side
	atlasSeg := r.tpl.AtlasSeg(atlas.ID, side)

	affine := r.store.Path("multireg", "to_atlas_affine.mat")
	if err := r.store.Ensure(affine, func() error {
		return r.eng.Reg.Affine(engine.AffineRequest{
			Fixed:       atlasSeg,
			Moving:      r.subjectSeg,
			Out:         affine,
			MomentsInit: true,
			Threads:     r.cfg.Threads,
		})
	}); err != nil {
		return err
	}

	warp := r.store.Path("multireg", "to_atlas_warp.nii.gz")
	if err := r.store.Ensure(warp, func() error {
		return r.eng.Reg.Deformable(engine.DeformableRequest{
			Fixed:      atlasSeg,
			Moving:     r.subjectSeg,
			InitAffine: affine,
			Out:        warp,
			Threads:    r.cfg.Threads,
		})
	}); err != nil {
		return err
	}

	rootChain := r.store.Path("multireg", "chain_to_root.txt")
	if err := r.store.Ensure(rootChain, func() error {
		atlasChain, err := chain.Load(r.tpl.AtlasRootChain(atlas.ID, side))
		if err != nil {
			return err
		}

		composed := atlasChain.Append(chain.Entry{Path: warp}, chain.Entry{Path: affine})

		return composed.Save(rootChain)
	}); err != nil {
		return err
	}

	return r.refineChain("multireg", r.tpl.GroupDir(ga.Group))
}

// stageUniReg extends the group chain to the unified template: splice the
// group-to-unified chain onto the template-side end, then fit a refinement
// warp in unified root space.
func (r *Run) stageUniReg() error {
	ga, err := r.assignment()
	if err != nil {
		return err
	}

	rootChain := r.store.Path("unireg", "chain_to_root.txt")
	if err := r.store.Ensure(rootChain, func() error {
		multi, err := chain.Load(r.chainPath("multireg"))
		if err != nil {
			return err
		}

		toUnified, err := chain.Load(r.tpl.GroupToUnifiedChain(ga.Group, r.cfg.Subject.Side))
		if err != nil {
			return err
		}

		return multi.Prepend(toUnified...).Save(rootChain)
	}); err != nil {
		return err
	}

	return r.refineChain("unireg", r.tpl.UnifiedDir())
}

// refineChain reslices the subject segmentation into the template root grid
// through dir's chain_to_root, registers the root image onto it, and
// publishes the chain with the refinement warp spliced onto the
// template-side end.
func (r *Run) refineChain(dir, templateDir string) error {
	side := r.cfg.Subject.Side
	rootImage := r.tpl.RootImage(templateDir, side)

	base, err := chain.Load(r.store.Path(dir, "chain_to_root.txt"))
	if err != nil {
		return err
	}

	resliced := r.store.Path(dir, "seg_in_root.nii.gz")
	if err := r.store.Ensure(resliced, func() error {
		return r.eng.Reg.Reslice(engine.ResliceRequest{
			Reference:  rootImage,
			Moving:     r.subjectSeg,
			Out:        resliced,
			Transforms: base.Args(),
			Label:      true,
			Threads:    r.cfg.Threads,
		})
	}); err != nil {
		return err
	}

	refine := r.store.Path(dir, "root_refine_warp.nii.gz")
	if err := r.store.Ensure(refine, func() error {
		return r.eng.Reg.Deformable(engine.DeformableRequest{
			Fixed:   resliced,
			Moving:  rootImage,
			Out:     refine,
			Threads: r.cfg.Threads,
		})
	}); err != nil {
		return err
	}

	terminal := r.chainPath(dir)

	return r.store.Ensure(terminal, func() error {
		return base.Prepend(chain.Entry{Path: refine}).Save(terminal)
	})
}

func (r *Run) stageMultiShoot() error {
	ga, err := r.assignment()
	if err != nil {
		return err
	}

	return r.runShoot(r.interp("multishoot", r.tpl.GroupDir(ga.Group)))
}

func (r *Run) stageUniShoot() error {
	return r.runShoot(r.interp("unishoot", r.tpl.UnifiedDir()))
}

func (r *Run) runShoot(ip shooting.Interp) error {
	log.Printf("%s: resuming from state %s", ip.StageDir, ip.State())

	return ip.Run()
}

func (r *Run) stageMultiEval() error {
	ga, err := r.assignment()
	if err != nil {
		return err
	}

	return r.evaluate(r.interp("multishoot", r.tpl.GroupDir(ga.Group)), "multieval")
}

func (r *Run) stageUniEval() error {
	return r.evaluate(r.interp("unishoot", r.tpl.UnifiedDir()), "unieval")
}

// evaluate extracts the thickness attributes from the fitted mesh, scores
// the fused segmentation against the subject's own, and reassembles the
// terminal report from every template type evaluated so far.
func (r *Run) evaluate(ip shooting.Interp, evalDir string) error {
	dump := r.store.Path(evalDir, "thickness_dump.csv")
	if err := r.store.Ensure(dump, func() error {
		return r.eng.Mesh.DumpAttributes(engine.DumpAttributesRequest{
			Mesh:   ip.FittedMesh(),
			Fields: []string{"region", "thickness"},
			Out:    dump,
		})
	}); err != nil {
		return err
	}

	eval := r.store.Path(evalDir, "overlap.tsv")
	if err := r.store.Ensure(eval, func() error {
		res, err := r.overlap(ip.FusedSeg(), r.subjectSeg)
		if err != nil {
			return err
		}

		return report.SaveEval(eval, r.tpl.RegionNames(), res)
	}); err != nil {
		return err
	}

	return r.assemble()
}

// assemble rewrites the terminal CSV from whichever template types have a
// complete evaluation, and copies their terminal artifacts out of the
// working directory so they survive Tidy.
func (r *Run) assemble() error {
	ga, err := r.assignment()
	if err != nil {
		return err
	}

	sub := r.cfg.Subject

	types := []struct {
		tag      string
		stageDir string
		evalDir  string
	}{
		{report.MultiTemp, "multishoot", "multieval"},
		{report.UniTemp, "unishoot", "unieval"},
	}

	var rows []report.Row
	for _, t := range types {
		dump := r.store.Path(t.evalDir, "thickness_dump.csv")
		eval := r.store.Path(t.evalDir, "overlap.tsv")
		if !r.store.Has(dump) || !r.store.Has(eval) {
			continue
		}

		th, err := report.ThicknessStats(dump, r.tpl.RegionGroups)
		if err != nil {
			return err
		}

		ov, err := report.LoadEval(eval, r.tpl.RegionNames())
		if err != nil {
			return err
		}

		rows = append(rows, report.Row{
			ID:           sub.ID,
			Side:         sub.Side,
			TemplateType: t.tag,
			Group:        ga.Group,
			Thickness:    th,
			Overlap:      ov,
		})

		// The two long-lived artifacts per template type
		ip := shooting.Interp{Store: r.store, StageDir: t.stageDir}
		copies := [][2]string{
			{ip.FittedMesh(), r.keepPath(t.tag, "thickness.vtk")},
			{ip.Momenta(), r.keepPath(t.tag, "momenta.vtk")},
		}
		for _, c := range copies {
			if err := report.CopyForward(c[0], c[1]); err != nil {
				return err
			}
		}
	}

	return report.WriteCSV(r.ReportPath(), r.tpl.RegionNames(), rows)
}

func (r *Run) keepPath(tag, name string) string {
	sub := r.cfg.Subject

	return filepath.Join(r.cfg.OutputDir, sub.ID+"_"+sub.Side+"_"+tag+"_"+name)
}
