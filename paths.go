package thickpipe

import (
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/carbocation/pfx"
)

// The segmentation suffixes we recognize, in probe order. The corrected
// multi-modality segmentation is preferred; the heuristic segmentation is the
// fallback for subjects where the corrected output was never produced.
var SegmentationSuffixes = []string{
	"_lfseg_corr_usegray.nii.gz",
	"_lfseg_heur.nii.gz",
}

// ExpandHome expands ~ to its proper path, where appropriate.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		usr, err := user.Current()
		if err != nil {
			log.Fatalln(pfx.Err(err))
		}
		path = filepath.Join(usr.HomeDir, (path)[2:])
	}

	return path
}

// FindSegmentation probes the input directory for the subject's segmentation
// under each recognized suffix convention and returns the first that exists.
// If none is found, it fails with a diagnostic that names every path probed,
// so the operator can see exactly what was looked for.
func FindSegmentation(inputDir, id, side string) (string, error) {
	probed := make([]string, 0, len(SegmentationSuffixes))

	for _, suffix := range SegmentationSuffixes {
		candidate := filepath.Join(inputDir, id+"_"+side+suffix)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}

		probed = append(probed, candidate)
	}

	return "", pfx.Err(fmt.Errorf("no segmentation found for %s/%s; probed: %s", id, side, strings.Join(probed, ", ")))
}
