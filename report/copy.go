package report

import (
	"io"
	"os"

	"github.com/carbocation/pfx"

	"github.com/hippocamp/thickpipe/artifact"
)

// CopyForward publishes a long-lived artifact (fitted mesh, momenta field)
// from the working directory into the run's output directory. Missing
// sources are skipped silently: the template type that would have produced
// them may not have been run.
func CopyForward(src, dst string) error {
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return pfx.Err(err)
	}
	defer in.Close()

	return artifact.Publish(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
