package statmodel

import (
	"fmt"
)

// Dataset is a collection of named data columns.  The columns are
// expected to have equal length, but this is not checked here; models
// validate the columns that they use.
type Dataset struct {
	names []string
	data  [][]Dtype
	pos   map[string]int
}

// NewDataset returns a Dataset holding the given columns.  The names
// must be distinct and there must be one name per column.
func NewDataset(data [][]Dtype, names []string) Dataset {

	if len(data) != len(names) {
		msg := fmt.Sprintf("NewDataset: %d columns but %d names", len(data), len(names))
		panic(msg)
	}

	pos := make(map[string]int, len(names))
	for j, na := range names {
		if _, ok := pos[na]; ok {
			msg := fmt.Sprintf("NewDataset: duplicate column name '%s'", na)
			panic(msg)
		}
		pos[na] = j
	}

	return Dataset{
		names: names,
		data:  data,
		pos:   pos,
	}
}

// Names returns the column names.
func (ds Dataset) Names() []string {
	return ds.names
}

// Data returns the data columns.
func (ds Dataset) Data() [][]Dtype {
	return ds.data
}

// Pos returns the position of the named column, and false if there
// is no such column.
func (ds Dataset) Pos(name string) (int, bool) {
	j, ok := ds.pos[name]
	return j, ok
}

// Column returns the named column, or nil if it does not exist.
func (ds Dataset) Column(name string) []Dtype {
	j, ok := ds.pos[name]
	if !ok {
		return nil
	}
	return ds.data[j]
}
