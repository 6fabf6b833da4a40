// Package selector decides which pre-built template variant a subject is fit
// to. It computes a pairwise similarity row between the subject and every
// atlas in the reference population, then classifies the subject into a
// group by nearest-neighbor membership. The resulting assignment is
// persisted once and treated as immutable ground truth by every later stage.
package selector

import (
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/aybabtme/uniplot/histogram"

	"github.com/carbocation/pfx"

	"github.com/hippocamp/thickpipe/artifact"
	"github.com/hippocamp/thickpipe/chain"
	"github.com/hippocamp/thickpipe/engine"
	"github.com/hippocamp/thickpipe/overlap"
	"github.com/hippocamp/thickpipe/template"
)

// Voxel radius for dilating the union mask that restricts the deformable
// metric region.
const maskDilationVoxels = 5

// A RowComputer produces the subject's similarity row. Every expensive step
// is guarded by the Store, so a crashed run resumes at the first atlas whose
// artifacts are incomplete.
type RowComputer struct {
	Store  *artifact.Store
	Reg    engine.Registration
	Img    engine.ImageMath
	Config template.Config

	SubjectSeg string
	Side       string
	Threads    int

	// Score compares a fused segmentation against the atlas's own; nil
	// selects the built-in generalized label overlap.
	Score func(fused, atlasSeg string) (float64, error)
}

func (rc RowComputer) score(fused, atlasSeg string) (float64, error) {
	if rc.Score != nil {
		return rc.Score(fused, atlasSeg)
	}

	res, err := overlap.DoPair(fused, atlasSeg, rc.Config.RegionGroups)
	if err != nil {
		return math.NaN(), err
	}

	return res.Full, nil
}

// ComputeRow returns one overlap score per atlas, in atlas-list order. A
// failed comparison contributes a NaN sentinel at its fixed index, never a
// skipped column, and the computation continues: classification tolerates
// partial similarity data.
func (rc RowComputer) ComputeRow() ([]float64, error) {
	row := make([]float64, len(rc.Config.Atlases))

	// Per-label binary masks of the subject segmentation, shared by every
	// pairwise comparison
	labelMasks, err := rc.subjectLabelMasks()
	if err != nil {
		return nil, err
	}

	for i, atlas := range rc.Config.Atlases {
		score, err := rc.compareToAtlas(atlas, labelMasks)
		if err != nil {
			log.Printf("similarity to atlas %s failed, recording NA: %v", atlas.ID, err)
			row[i] = math.NaN()
			continue
		}

		row[i] = score
	}

	logHistogram(row)

	return row, nil
}

func (rc RowComputer) subjectLabelMasks() (map[int]string, error) {
	out := make(map[int]string, len(rc.Config.Labels))

	for _, label := range rc.Config.Labels {
		label := label
		path := rc.Store.Path("atlasreg", fmt.Sprintf("subj_lab%02d.nii.gz", label.ID))

		err := rc.Store.Ensure(path, func() error {
			return rc.Img.Binarize(engine.BinarizeRequest{
				In:     rc.SubjectSeg,
				Labels: []int{label.ID},
				Out:    path,
			})
		})
		if err != nil {
			return nil, err
		}

		out[label.ID] = path
	}

	return out, nil
}

// compareToAtlas runs the pairwise pipeline for one atlas: affine alignment,
// masked deformable registration, per-label reslice, vote fusion, and the
// scalar overlap score. Each step is memoized.
func (rc RowComputer) compareToAtlas(atlas template.Atlas, labelMasks map[int]string) (float64, error) {
	dir := []string{"atlasreg", atlas.ID}
	atlasSeg := rc.Config.AtlasSeg(atlas.ID, rc.Side)

	scorePath := rc.Store.Path(append(dir, "score.txt")...)
	if rc.Store.Has(scorePath) {
		return loadScore(scorePath)
	}

	affine := rc.Store.Path(append(dir, "affine.mat")...)
	if err := rc.Store.Ensure(affine, func() error {
		return rc.Reg.Affine(engine.AffineRequest{
			Fixed:       atlasSeg,
			Moving:      rc.SubjectSeg,
			Out:         affine,
			MomentsInit: true,
			Threads:     rc.Threads,
		})
	}); err != nil {
		return 0, err
	}

	subjAffine := rc.Store.Path(append(dir, "subj_affine.nii.gz")...)
	if err := rc.Store.Ensure(subjAffine, func() error {
		return rc.Reg.Reslice(engine.ResliceRequest{
			Reference:  atlasSeg,
			Moving:     rc.SubjectSeg,
			Out:        subjAffine,
			Transforms: chain.Chain{{Path: affine}}.Args(),
			Label:      true,
			Threads:    rc.Threads,
		})
	}); err != nil {
		return 0, err
	}

	mask := rc.Store.Path(append(dir, "mask.nii.gz")...)
	if err := rc.Store.Ensure(mask, func() error {
		return rc.Img.UnionMask(engine.UnionMaskRequest{
			Inputs:       []string{atlasSeg, subjAffine},
			DilateVoxels: maskDilationVoxels,
			Out:          mask,
		})
	}); err != nil {
		return 0, err
	}

	warp := rc.Store.Path(append(dir, "warp.nii.gz")...)
	if err := rc.Store.Ensure(warp, func() error {
		return rc.Reg.Deformable(engine.DeformableRequest{
			Fixed:      atlasSeg,
			Moving:     rc.SubjectSeg,
			Mask:       mask,
			InitAffine: affine,
			Out:        warp,
			Threads:    rc.Threads,
		})
	}); err != nil {
		return 0, err
	}

	// Carry each subject label probability map into the atlas grid. Order
	// here must match the transform order used everywhere else, or labels
	// would warp inconsistently across regions.
	transforms := chain.Chain{{Path: warp}, {Path: affine}}.Args()

	probs := make([]string, 0, len(rc.Config.Labels))
	labels := make([]int, 0, len(rc.Config.Labels))
	for _, label := range rc.Config.Labels {
		label := label
		prob := rc.Store.Path(append(dir, fmt.Sprintf("prob%02d.nii.gz", label.ID))...)

		if err := rc.Store.Ensure(prob, func() error {
			return rc.Reg.Reslice(engine.ResliceRequest{
				Reference:  atlasSeg,
				Moving:     labelMasks[label.ID],
				Out:        prob,
				Transforms: transforms,
				Threads:    rc.Threads,
			})
		}); err != nil {
			return 0, err
		}

		probs = append(probs, prob)
		labels = append(labels, label.ID)
	}

	fused := rc.Store.Path(append(dir, "fused.nii.gz")...)
	if err := rc.Store.Ensure(fused, func() error {
		return rc.Img.Vote(engine.VoteRequest{
			Inputs:     probs,
			Labels:     labels,
			Background: rc.Config.BackgroundLabel,
			Out:        fused,
		})
	}); err != nil {
		return 0, err
	}

	score, err := rc.score(fused, atlasSeg)
	if err != nil {
		return 0, err
	}

	if err := saveScore(scorePath, score); err != nil {
		return 0, err
	}

	return score, nil
}

func saveScore(path string, score float64) error {
	return artifact.Publish(path, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, formatScore(score))
		return err
	})
}

func loadScore(path string) (float64, error) {
	bts, err := os.ReadFile(path)
	if err != nil {
		return 0, pfx.Err(err)
	}

	return parseScore(string(bts))
}

func logHistogram(row []float64) {
	finite := make([]float64, 0, len(row))
	for _, v := range row {
		if !math.IsNaN(v) {
			finite = append(finite, v)
		}
	}

	if len(finite) < 2 {
		return
	}

	hist := histogram.Hist(10, finite)
	log.Printf("similarity scores across %d of %d atlases:", len(finite), len(row))
	if err := histogram.Fprint(os.Stderr, hist, histogram.Linear(40)); err != nil {
		log.Println(pfx.Err(err))
	}
}

func formatScore(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}

	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseScore(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)

	if trimmed == "NA" {
		return math.NaN(), nil
	}

	v, err := strconv.ParseFloat(trimmed, 64)
	return v, pfx.Err(err)
}
