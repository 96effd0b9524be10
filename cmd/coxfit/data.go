package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kshedden/coxph/statmodel"
)

// readCSV reads a data set with a header row.  All columns must be
// numeric.
func readCSV(r io.Reader) (statmodel.Dataset, error) {

	rd := csv.NewReader(r)
	rd.TrimLeadingSpace = true

	names, err := rd.Read()
	if err != nil {
		return statmodel.Dataset{}, fmt.Errorf("failed to read header: %w", err)
	}
	for j := range names {
		names[j] = strings.TrimSpace(names[j])
	}

	seen := make(map[string]bool)
	for _, na := range names {
		if seen[na] {
			return statmodel.Dataset{}, fmt.Errorf("duplicate column name %q", na)
		}
		seen[na] = true
	}

	da := make([][]float64, len(names))
	for line := 2; ; line++ {
		row, err := rd.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return statmodel.Dataset{}, err
		}

		for j, s := range row {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return statmodel.Dataset{}, fmt.Errorf("line %d, column %q: %w", line, names[j], err)
			}
			da[j] = append(da[j], v)
		}
	}

	return statmodel.NewDataset(da, names), nil
}

func readCSVFile(path string) (statmodel.Dataset, error) {
	fid, err := os.Open(path)
	if err != nil {
		return statmodel.Dataset{}, err
	}
	defer fid.Close()

	return readCSV(fid)
}

// writeCSV writes a data set with a header row.
func writeCSV(w io.Writer, data statmodel.Dataset) error {

	wr := csv.NewWriter(w)
	if err := wr.Write(data.Names()); err != nil {
		return err
	}

	cols := data.Data()
	var n int
	if len(cols) > 0 {
		n = len(cols[0])
	}

	row := make([]string, len(cols))
	for i := 0; i < n; i++ {
		for j, col := range cols {
			row[j] = strconv.FormatFloat(col[i], 'g', -1, 64)
		}
		if err := wr.Write(row); err != nil {
			return err
		}
	}

	wr.Flush()
	return wr.Error()
}
