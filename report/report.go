// Package report turns terminal artifacts into the per-subject/side CSV:
// identity columns, per-region mean and median thickness, per-region and
// aggregate fit-quality overlap, one row per template type present. Rows for
// a template type whose artifacts were never produced are omitted, not
// errors: the run may have covered the variant path only.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/carbocation/pfx"

	"github.com/hippocamp/thickpipe/artifact"
	"github.com/hippocamp/thickpipe/overlap"
)

// Template-type tags in the output CSV.
const (
	MultiTemp = "MultiTemp"
	UniTemp   = "UniTemp"
)

// A Row is one terminal report line.
type Row struct {
	ID           string
	Side         string
	TemplateType string
	Group        int

	Thickness Thickness
	Overlap   overlap.Result
}

// Header builds the fixed column list for a configured region list: identity
// columns, Mean_/Median_ thickness per region, OVL_ per region, FULLOVL.
func Header(regions []string) []string {
	out := []string{"ID", "Side", "TemplateType", "Group"}

	for _, r := range regions {
		out = append(out, "Mean_"+r)
		out = append(out, "Median_"+r)
	}
	for _, r := range regions {
		out = append(out, "OVL_"+r)
	}

	return append(out, "FULLOVL")
}

// Record renders the row against the same region list that built the
// header. Absent values are NA, never omitted columns.
func (r Row) Record(regions []string) ([]string, error) {
	if len(r.Thickness.Mean) != len(regions) || len(r.Overlap.PerGroup) != len(regions) {
		return nil, pfx.Err(fmt.Errorf("row for %s/%s has %d thickness and %d overlap values for %d regions",
			r.ID, r.Side, len(r.Thickness.Mean), len(r.Overlap.PerGroup), len(regions)))
	}

	out := []string{r.ID, r.Side, r.TemplateType, strconv.Itoa(r.Group)}

	for i := range regions {
		out = append(out, formatValue(r.Thickness.Mean[i]))
		out = append(out, formatValue(r.Thickness.Median[i]))
	}
	for i := range regions {
		out = append(out, formatValue(r.Overlap.PerGroup[i]))
	}

	return append(out, formatValue(r.Overlap.Full)), nil
}

// WriteCSV writes the report atomically with its fixed header.
func WriteCSV(path string, regions []string, rows []Row) error {
	return artifact.Publish(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)

		if err := cw.Write(Header(regions)); err != nil {
			return err
		}

		for _, row := range rows {
			record, err := row.Record(regions)
			if err != nil {
				return err
			}
			if err := cw.Write(record); err != nil {
				return err
			}
		}

		cw.Flush()
		return cw.Error()
	})
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}

	return strconv.FormatFloat(v, 'g', 6, 64)
}
