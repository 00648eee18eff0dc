// Package dataset loads numeric tabular data and splits it for training.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Dataset is a dense feature matrix with an integer class label per row.
type Dataset struct {
	Features []string
	X        [][]float64
	Y        []int
}

func (d *Dataset) Len() int {
	return len(d.Y)
}

// Subset returns the rows at idx, sharing the underlying row slices.
func (d *Dataset) Subset(idx []int) *Dataset {
	sub := &Dataset{
		Features: d.Features,
		X:        make([][]float64, len(idx)),
		Y:        make([]int, len(idx)),
	}
	for i, j := range idx {
		sub.X[i] = d.X[j]
		sub.Y[i] = d.Y[j]
	}
	return sub
}

// Classes returns the sorted distinct labels.
func (d *Dataset) Classes() []int {
	seen := make(map[int]bool)
	var classes []int
	for _, y := range d.Y {
		if !seen[y] {
			seen[y] = true
			classes = append(classes, y)
		}
	}
	sort.Ints(classes)
	return classes
}

// LoadCSV reads a CSV file with a header row. Every column other than
// label becomes a feature and every cell must be numeric.
func LoadCSV(path, label string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	defer f.Close()

	ds, err := ReadCSV(f, label)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	return ds, nil
}

func ReadCSV(r io.Reader, label string) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty file")
		}
		return nil, err
	}
	header = append([]string(nil), header...)

	labelIdx := -1
	ds := &Dataset{}
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == label {
			labelIdx = i
			continue
		}
		ds.Features = append(ds.Features, name)
	}
	if labelIdx < 0 {
		return nil, fmt.Errorf("label column %q not found", label)
	}
	width := len(header)

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) != width {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", line, width, len(record))
		}

		row := make([]float64, 0, width-1)
		var y int
		for i, cell := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, header[i], err)
			}
			if i == labelIdx {
				if v != float64(int(v)) {
					return nil, fmt.Errorf("line %d: label %v is not an integer class", line, v)
				}
				y = int(v)
				continue
			}
			row = append(row, v)
		}
		ds.X = append(ds.X, row)
		ds.Y = append(ds.Y, y)
	}

	if ds.Len() == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return ds, nil
}
