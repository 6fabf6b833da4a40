package selector

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/carbocation/pfx"

	"github.com/hippocamp/thickpipe/artifact"
	"github.com/hippocamp/thickpipe/template"
)

// SaveRow persists a similarity row, one "atlasID<TAB>score" line per atlas
// in atlas-list order, with NA for missing comparisons so that column
// alignment survives for downstream classification.
func SaveRow(path string, atlases []template.Atlas, row []float64) error {
	if len(row) != len(atlases) {
		return pfx.Err(fmt.Errorf("similarity row has %d entries for %d atlases", len(row), len(atlases)))
	}

	return artifact.Publish(path, func(w io.Writer) error {
		for i, a := range atlases {
			if _, err := fmt.Fprintf(w, "%s\t%s\n", a.ID, formatScore(row[i])); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadRow reads a row persisted by SaveRow and validates it against the
// atlas list: same length, same order.
func LoadRow(path string, atlases []template.Atlas) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	out := make([]float64, 0, len(atlases))

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, pfx.Err(fmt.Errorf("%s: malformed line %q", path, line))
		}

		i := len(out)
		if i >= len(atlases) {
			return nil, pfx.Err(fmt.Errorf("%s: more rows than atlases (%d)", path, len(atlases)))
		}
		if fields[0] != atlases[i].ID {
			return nil, pfx.Err(fmt.Errorf("%s: row %d is for atlas %s, expected %s: atlas list changed since this row was computed", path, i, fields[0], atlases[i].ID))
		}

		score, err := parseScore(fields[1])
		if err != nil {
			return nil, err
		}
		out = append(out, score)
	}
	if err := scanner.Err(); err != nil {
		return nil, pfx.Err(err)
	}

	if len(out) != len(atlases) {
		return nil, pfx.Err(fmt.Errorf("%s: %d rows for %d atlases", path, len(out), len(atlases)))
	}

	return out, nil
}
