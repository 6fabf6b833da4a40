package overlap

import (
	"fmt"
	"math"

	"github.com/carbocation/pfx"
	"github.com/henghuang/nifti"
)

// LoadSeg reads a NIfTI label volume into a Seg. Only the first timepoint is
// read; segmentations are 3D.
func LoadSeg(path string) (Seg, error) {
	img, err := safelyNiftiParse(path, true)
	if err != nil {
		return Seg{}, pfx.Err(fmt.Errorf("%s: %v", path, err))
	}

	dims := img.GetDims()
	out := Seg{Dims: [4]int{dims[0], dims[1], dims[2], 1}}

	out.Voxels = make([]int, 0, dims[0]*dims[1]*dims[2])
	for z := 0; z < dims[2]; z++ {
		for y := 0; y < dims[1]; y++ {
			for x := 0; x < dims[0]; x++ {
				out.Voxels = append(out.Voxels, int(math.Round(float64(img.GetAt(x, y, z, 0)))))
			}
		}
	}

	return out, nil
}

// safelyNiftiParse consumes panics emitted by the nifti library, which are
// inappropriate and must be captured in order to turn them into recoverable
// errors.
func safelyNiftiParse(filename string, rdata bool) (parsedData nifti.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	parsedData.LoadImage(filename, rdata)

	return
}
