package artifact

import (
	"fmt"
	"strings"
)

// MissingPrereq reports artifacts that an earlier stage should have produced
// but which are absent. It is raised eagerly, before any stage in a requested
// range runs, rather than at the first point of use mid-stage.
type MissingPrereq struct {
	Stage string
	Paths []string
}

func (e *MissingPrereq) Error() string {
	return fmt.Sprintf("stage %s requires artifacts that do not exist (was an earlier stage skipped?): %s",
		e.Stage, strings.Join(e.Paths, ", "))
}

// CheckPrereqs returns a MissingPrereq naming every absent path, or nil when
// all exist.
func (s *Store) CheckPrereqs(stage string, paths ...string) error {
	var missing []string
	for _, p := range paths {
		if !s.Has(p) {
			missing = append(missing, p)
		}
	}

	if missing != nil {
		return &MissingPrereq{Stage: stage, Paths: missing}
	}

	return nil
}
