package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/carbocation/pfx"
	"github.com/montanaflynn/stats"

	"github.com/hippocamp/thickpipe/template"
)

// Thickness holds per-region-group mean and median thickness, indexed like
// the configured region groupings. Groups with no vertices are NaN.
type Thickness struct {
	Mean   []float64
	Median []float64
}

// ThicknessStats reads the engine's mesh attribute dump (CSV with region and
// thickness columns, one row per vertex) and reduces it per region grouping.
func ThicknessStats(dumpPath string, groups []template.RegionGroup) (Thickness, error) {
	out := Thickness{
		Mean:   make([]float64, len(groups)),
		Median: make([]float64, len(groups)),
	}

	f, err := os.Open(dumpPath)
	if err != nil {
		return out, pfx.Err(err)
	}
	defer f.Close()

	groupOf := make(map[int][]int) // label -> group indices
	for gi, g := range groups {
		for _, l := range g.Labels {
			groupOf[l] = append(groupOf[l], gi)
		}
	}

	values := make([][]float64, len(groups))

	cr := csv.NewReader(f)

	header, err := cr.Read()
	if err != nil {
		return out, pfx.Err(err)
	}

	regionCol, thicknessCol := -1, -1
	for i, name := range header {
		switch name {
		case "region":
			regionCol = i
		case "thickness":
			thicknessCol = i
		}
	}
	if regionCol < 0 || thicknessCol < 0 {
		return out, pfx.Err(fmt.Errorf("%s: dump must carry region and thickness columns, has %v", dumpPath, header))
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return out, pfx.Err(err)
		}

		label, err := strconv.Atoi(record[regionCol])
		if err != nil {
			return out, pfx.Err(fmt.Errorf("%s: bad region value %q: %w", dumpPath, record[regionCol], err))
		}

		thickness, err := strconv.ParseFloat(record[thicknessCol], 64)
		if err != nil {
			return out, pfx.Err(fmt.Errorf("%s: bad thickness value %q: %w", dumpPath, record[thicknessCol], err))
		}

		for _, gi := range groupOf[label] {
			values[gi] = append(values[gi], thickness)
		}
	}

	for gi := range groups {
		if len(values[gi]) == 0 {
			out.Mean[gi] = math.NaN()
			out.Median[gi] = math.NaN()
			continue
		}

		if out.Mean[gi], err = stats.Mean(values[gi]); err != nil {
			return out, pfx.Err(err)
		}
		if out.Median[gi], err = stats.Median(values[gi]); err != nil {
			return out, pfx.Err(err)
		}
	}

	return out, nil
}
