// Package procrustes computes the rigid (rotation + translation) alignment
// of one landmark set onto another. The geodesic shooting step is
// ill-conditioned unless the extracted target landmarks start near the
// template's root landmarks, so the pipeline rigidly parks them there first.
package procrustes

import (
	"fmt"

	"github.com/carbocation/pfx"
	"gonum.org/v1/gonum/mat"
)

// RigidAlign returns the 4x4 rigid transform that best maps source onto
// target in the least-squares sense (Kabsch). Source and target must have
// the same length and correspond point-for-point.
func RigidAlign(source, target [][3]float64) (*mat.Dense, error) {
	if len(source) != len(target) {
		return nil, pfx.Err(fmt.Errorf("landmark sets differ in size: %d vs %d", len(source), len(target)))
	}
	if len(source) < 3 {
		return nil, pfx.Err(fmt.Errorf("rigid alignment requires at least 3 landmarks, got %d", len(source)))
	}

	srcCentroid := centroid(source)
	tgtCentroid := centroid(target)

	// Cross-covariance of the centered sets
	h := mat.NewDense(3, 3, nil)
	for i := range source {
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h.Set(r, c, h.At(r, c)+(source[i][r]-srcCentroid[r])*(target[i][c]-tgtCentroid[c]))
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return nil, pfx.Err(fmt.Errorf("SVD of the landmark cross-covariance failed"))
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R = V D U^T where D corrects a reflection into a proper rotation
	var vut mat.Dense
	vut.Mul(&v, u.T())

	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&vut) < 0 {
		d.SetDiag(2, -1)
	}

	var rot mat.Dense
	rot.Mul(&v, d)
	rot.Mul(&rot, u.T())

	out := mat.NewDense(4, 4, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out.Set(r, c, rot.At(r, c))
		}
	}

	// t = targetCentroid - R * sourceCentroid
	for r := 0; r < 3; r++ {
		t := tgtCentroid[r]
		for c := 0; c < 3; c++ {
			t -= rot.At(r, c) * srcCentroid[c]
		}
		out.Set(r, 3, t)
	}
	out.Set(3, 3, 1)

	return out, nil
}

func centroid(points [][3]float64) [3]float64 {
	var out [3]float64
	for _, p := range points {
		for d := 0; d < 3; d++ {
			out[d] += p[d]
		}
	}
	for d := 0; d < 3; d++ {
		out[d] /= float64(len(points))
	}

	return out
}
