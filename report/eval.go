package report

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/carbocation/pfx"

	"github.com/hippocamp/thickpipe/artifact"
	"github.com/hippocamp/thickpipe/overlap"
)

// SaveEval persists an overlap result as a fixed-length TSV: one line per
// region grouping plus the FULLOVL aggregate.
func SaveEval(path string, regions []string, res overlap.Result) error {
	if len(res.PerGroup) != len(regions) {
		return pfx.Err(fmt.Errorf("%d scores for %d regions", len(res.PerGroup), len(regions)))
	}

	return artifact.Publish(path, func(w io.Writer) error {
		for i, r := range regions {
			if _, err := fmt.Fprintf(w, "%s\t%s\n", r, formatEval(res.PerGroup[i])); err != nil {
				return err
			}
		}

		_, err := fmt.Fprintf(w, "FULLOVL\t%s\n", formatEval(res.Full))
		return err
	})
}

// LoadEval reads a persisted overlap result and validates it against the
// configured region list.
func LoadEval(path string, regions []string) (overlap.Result, error) {
	out := overlap.Result{PerGroup: make([]float64, 0, len(regions))}

	f, err := os.Open(path)
	if err != nil {
		return out, pfx.Err(err)
	}
	defer f.Close()

	sawFull := false

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return out, pfx.Err(fmt.Errorf("%s: malformed line %q", path, line))
		}

		value, err := parseEval(fields[1])
		if err != nil {
			return out, pfx.Err(fmt.Errorf("%s: %w", path, err))
		}

		if fields[0] == "FULLOVL" {
			out.Full = value
			sawFull = true
			continue
		}

		i := len(out.PerGroup)
		if i >= len(regions) || fields[0] != regions[i] {
			return out, pfx.Err(fmt.Errorf("%s: unexpected region %q at position %d: region list changed since this file was written", path, fields[0], i))
		}

		out.PerGroup = append(out.PerGroup, value)
	}
	if err := scanner.Err(); err != nil {
		return out, pfx.Err(err)
	}

	if len(out.PerGroup) != len(regions) || !sawFull {
		return out, pfx.Err(fmt.Errorf("%s: incomplete evaluation file", path))
	}

	return out, nil
}

func formatEval(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}

	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseEval(s string) (float64, error) {
	if s == "NA" {
		return math.NaN(), nil
	}

	return strconv.ParseFloat(s, 64)
}
