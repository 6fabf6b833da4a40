package selector

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/carbocation/pfx"

	"github.com/hippocamp/thickpipe/artifact"
	"github.com/hippocamp/thickpipe/template"
)

// A GroupAssignment selects which pre-built template variant a subject is
// registered against (Group) and which single atlas seeds that registration
// (NearestAtlas, an index into the atlas list). Computed once in the
// membership stage and read unmodified by every later stage.
type GroupAssignment struct {
	Group        int `json:"group"`
	NearestAtlas int `json:"nearest_atlas"`
}

// A Classifier turns a similarity row into a group assignment. The default
// is the in-process nearest-neighbor vote; the interface exists so an
// external classifier can stand in.
type Classifier interface {
	Classify(row []float64, atlases []template.Atlas) (GroupAssignment, error)
}

// Nearest assigns the group whose atlases are most similar to the subject on
// average, then picks the single best atlas within that group.
type Nearest struct{}

func (Nearest) Classify(row []float64, atlases []template.Atlas) (GroupAssignment, error) {
	if len(row) != len(atlases) {
		return GroupAssignment{}, pfx.Err(fmt.Errorf("similarity row has %d entries for %d atlases", len(row), len(atlases)))
	}

	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, a := range atlases {
		if math.IsNaN(row[i]) {
			continue
		}

		sums[a.Group] += row[i]
		counts[a.Group]++
	}

	if len(counts) == 0 {
		return GroupAssignment{}, pfx.Err(fmt.Errorf("no finite similarity scores; cannot classify"))
	}

	// Deterministic tie-break on group id
	groups := make([]int, 0, len(counts))
	for g := range counts {
		groups = append(groups, g)
	}
	sort.Ints(groups)

	bestGroup := groups[0]
	bestMean := math.Inf(-1)
	for _, g := range groups {
		if mean := sums[g] / float64(counts[g]); mean > bestMean {
			bestGroup, bestMean = g, mean
		}
	}

	nearest := -1
	nearestScore := math.Inf(-1)
	for i, a := range atlases {
		if a.Group != bestGroup || math.IsNaN(row[i]) {
			continue
		}
		if row[i] > nearestScore {
			nearest, nearestScore = i, row[i]
		}
	}

	return GroupAssignment{Group: bestGroup, NearestAtlas: nearest}, nil
}

// SaveAssignment persists the assignment as JSON, atomically. It is written
// exactly once per subject/side; later stages only read it.
func SaveAssignment(path string, ga GroupAssignment) error {
	return artifact.Publish(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ga)
	})
}

// LoadAssignment reads a persisted assignment.
func LoadAssignment(path string) (GroupAssignment, error) {
	out := GroupAssignment{}

	f, err := os.Open(path)
	if err != nil {
		return out, pfx.Err(err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&out); err != nil {
		return out, pfx.Err(err)
	}

	return out, nil
}

// SaveRanking writes the operator-facing ranked similarity listing: every
// atlas with a finite score, best first.
func SaveRanking(path string, atlases []template.Atlas, row []float64) error {
	type ranked struct {
		id    string
		group int
		score float64
	}

	list := make([]ranked, 0, len(atlases))
	for i, a := range atlases {
		if math.IsNaN(row[i]) {
			continue
		}
		list = append(list, ranked{id: a.ID, group: a.Group, score: row[i]})
	}

	sort.Slice(list, func(i, j int) bool { return list[i].score > list[j].score })

	return artifact.Publish(path, func(w io.Writer) error {
		for _, r := range list {
			if _, err := fmt.Fprintf(w, "%s\tgroup%d\t%s\n", r.id, r.group, formatScore(r.score)); err != nil {
				return err
			}
		}
		return nil
	})
}
