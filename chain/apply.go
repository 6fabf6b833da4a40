package chain

import (
	"fmt"
	"io"
	"os"

	"github.com/carbocation/pfx"
	"gonum.org/v1/gonum/mat"

	"github.com/hippocamp/thickpipe/artifact"
)

// LoadAffine reads a 4x4 row-major affine matrix in the registration
// engine's plain-text .mat convention.
func LoadAffine(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	vals := make([]float64, 16)
	for i := range vals {
		if _, err := fmt.Fscan(f, &vals[i]); err != nil {
			return nil, pfx.Err(fmt.Errorf("%s: expected 16 matrix values: %w", path, err))
		}
	}

	return mat.NewDense(4, 4, vals), nil
}

// SaveAffine writes a 4x4 affine matrix atomically in the engine's .mat
// convention.
func SaveAffine(path string, m *mat.Dense) error {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return pfx.Err(fmt.Errorf("affine matrix must be 4x4, got %dx%d", r, c))
	}

	return artifact.Publish(path, func(w io.Writer) error {
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				if j > 0 {
					if _, err := fmt.Fprint(w, " "); err != nil {
						return err
					}
				}
				if _, err := fmt.Fprintf(w, "%.16g", m.At(i, j)); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		return nil
	})
}

// Collapse multiplies an affine-only chain down to a single 4x4 matrix,
// honoring per-entry inverse flags. Entry order is the application order, so
// for a chain [M1 M2 M3] the collapsed matrix is M3*M2*M1. Chains containing
// deformation fields cannot be collapsed in-process and are rejected.
func (c Chain) Collapse() (*mat.Dense, error) {
	combined := mat.NewDense(4, 4, nil)
	identity(combined)

	for _, e := range c {
		if !e.Affine() {
			return nil, pfx.Err(fmt.Errorf("chain entry %s is not an affine matrix; only the registration engine can apply it", e.Path))
		}

		m, err := LoadAffine(e.Path)
		if err != nil {
			return nil, err
		}

		if e.Invert {
			var inv mat.Dense
			if err := inv.Inverse(m); err != nil {
				return nil, pfx.Err(fmt.Errorf("%s: %w", e.Path, err))
			}
			m = &inv
		}

		var next mat.Dense
		next.Mul(m, combined)
		combined.Copy(&next)
	}

	return combined, nil
}

// ApplyAffine carries a point set through an affine-only chain. Points are
// [x y z] rows; the returned slice is freshly allocated.
func (c Chain) ApplyAffine(points [][3]float64) ([][3]float64, error) {
	m, err := c.Collapse()
	if err != nil {
		return nil, err
	}

	out := make([][3]float64, len(points))
	for i, p := range points {
		v := mat.NewVecDense(4, []float64{p[0], p[1], p[2], 1})

		var res mat.VecDense
		res.MulVec(m, v)

		out[i] = [3]float64{res.AtVec(0), res.AtVec(1), res.AtVec(2)}
	}

	return out, nil
}

func identity(m *mat.Dense) {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				m.Set(i, j, 1)
			} else {
				m.Set(i, j, 0)
			}
		}
	}
}
