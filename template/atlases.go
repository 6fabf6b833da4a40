package template

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/carbocation/pfx"
	"github.com/gocarina/gocsv"
)

// An Atlas is one member of the reference population: its template-space
// data lives under AtlasDir(ID), and Group is its known membership in the
// population clustering. The atlas list's file order is load-bearing: the
// similarity row is indexed by it, so the list is never sorted or filtered
// after load.
type Atlas struct {
	ID    string `csv:"id"`
	Group int    `csv:"group"`
}

// LoadAtlases reads the ordered, tab-delimited atlas list.
func LoadAtlases(path string) ([]Atlas, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	// Tell gocsv to use tab as the delimiter
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.Comma = '\t'
		r.LazyQuotes = true
		return r
	})

	atlases := []*Atlas{}
	if err := gocsv.Unmarshal(f, &atlases); err != nil {
		return nil, pfx.Err(err)
	}

	if len(atlases) == 0 {
		return nil, pfx.Err(fmt.Errorf("%s: atlas list is empty", path))
	}

	out := make([]Atlas, 0, len(atlases))
	seen := make(map[string]struct{})
	for _, a := range atlases {
		if a.ID == "" {
			return nil, pfx.Err(fmt.Errorf("%s: atlas with empty id", path))
		}
		if _, exists := seen[a.ID]; exists {
			return nil, pfx.Err(fmt.Errorf("%s: duplicate atlas id %s", path, a.ID))
		}
		seen[a.ID] = struct{}{}

		out = append(out, *a)
	}

	return out, nil
}
