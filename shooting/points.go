package shooting

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/carbocation/pfx"

	"github.com/hippocamp/thickpipe/artifact"
)

// LoadPoints reads a plain-text landmark list, one "x y z" triple per line.
func LoadPoints(path string) ([][3]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	var out [][3]float64

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) == 0 {
			continue
		}

		var p [3]float64
		if _, err := fmt.Sscan(line, &p[0], &p[1], &p[2]); err != nil {
			return nil, pfx.Err(fmt.Errorf("%s: malformed landmark line %q: %w", path, line, err))
		}

		out = append(out, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, pfx.Err(err)
	}

	if len(out) == 0 {
		return nil, pfx.Err(fmt.Errorf("%s: no landmarks", path))
	}

	return out, nil
}

// SavePoints writes a landmark list atomically in the format LoadPoints
// reads.
func SavePoints(path string, points [][3]float64) error {
	return artifact.Publish(path, func(w io.Writer) error {
		for _, p := range points {
			if _, err := fmt.Fprintf(w, "%.16g %.16g %.16g\n", p[0], p[1], p[2]); err != nil {
				return err
			}
		}
		return nil
	})
}
