// Package overlap scores the agreement between two discrete segmentations on
// a common grid. A single scalar (generalized Dice over all labels) serves
// as the similarity metric for template selection; per-region-group scores
// plus the aggregate serve as the fit-quality columns of the final report.
package overlap

import (
	"fmt"
	"math"

	"github.com/carbocation/pfx"

	"github.com/hippocamp/thickpipe/template"
)

// A Seg is a discrete segmentation held as flattened voxel labels (x fastest)
// with its grid dimensions.
type Seg struct {
	Dims   [4]int
	Voxels []int
}

// Result holds one score per configured region grouping, in configuration
// order, plus the aggregate over every configured label. PerGroup always has
// exactly one entry per grouping; a grouping empty in both segmentations
// scores NaN rather than being dropped.
type Result struct {
	PerGroup []float64
	Full     float64
}

// DoPair loads two segmentation volumes and scores them with DoPairSegs.
// Both must already live on the same grid; reslicing to a common grid is the
// registration engine's job.
func DoPair(segA, segB string, groups []template.RegionGroup) (Result, error) {
	a, err := LoadSeg(segA)
	if err != nil {
		return Result{PerGroup: make([]float64, len(groups))}, err
	}

	b, err := LoadSeg(segB)
	if err != nil {
		return Result{PerGroup: make([]float64, len(groups))}, err
	}

	out, err := DoPairSegs(a, b, groups)
	if err != nil {
		return out, pfx.Err(fmt.Errorf("%s vs %s: %w", segA, segB, err))
	}

	return out, nil
}

// DoPairSegs computes binarized Dice per region grouping and a generalized
// Dice over all grouped labels.
func DoPairSegs(a, b Seg, groups []template.RegionGroup) (Result, error) {
	out := Result{PerGroup: make([]float64, len(groups))}

	if len(groups) > 64 {
		return out, pfx.Err(fmt.Errorf("at most 64 region groupings are supported, got %d", len(groups)))
	}
	if a.Dims != b.Dims || len(a.Voxels) != len(b.Voxels) {
		return out, pfx.Err(fmt.Errorf("segmentations are not on a common grid: %v vs %v", a.Dims, b.Dims))
	}

	// Label membership per grouping, as a bitmask over group indices
	membership := make(map[int]uint64)
	foreground := make(map[int]bool)
	for gi, g := range groups {
		for _, l := range g.Labels {
			membership[l] |= 1 << uint(gi)
			foreground[l] = true
		}
	}

	var interGroup, sizeAGroup, sizeBGroup [64]int64
	var interFull, sizeAFull, sizeBFull int64

	for i := range a.Voxels {
		la, lb := a.Voxels[i], b.Voxels[i]

		maskA, maskB := membership[la], membership[lb]
		for both := maskA & maskB; both != 0; both &= both - 1 {
			interGroup[trailingBit(both)]++
		}
		for ma := maskA; ma != 0; ma &= ma - 1 {
			sizeAGroup[trailingBit(ma)]++
		}
		for mb := maskB; mb != 0; mb &= mb - 1 {
			sizeBGroup[trailingBit(mb)]++
		}

		if foreground[la] {
			sizeAFull++
		}
		if foreground[lb] {
			sizeBFull++
		}
		if la == lb && foreground[la] {
			interFull++
		}
	}

	for gi := range groups {
		out.PerGroup[gi] = dice(interGroup[gi], sizeAGroup[gi], sizeBGroup[gi])
	}
	out.Full = dice(interFull, sizeAFull, sizeBFull)

	return out, nil
}

func dice(inter, sizeA, sizeB int64) float64 {
	if sizeA+sizeB == 0 {
		return math.NaN()
	}

	return 2 * float64(inter) / float64(sizeA+sizeB)
}

func trailingBit(v uint64) int {
	n := 0
	for v&1 == 0 {
		v >>= 1
		n++
	}

	return n
}
