package sweep

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/datafile"
)

// Result is the data produced by a recipe: named columns, 2-D grids,
// scalars and descriptive metadata
type Result struct {
	Recipe   string
	Started  time.Time
	Finished time.Time

	Columns map[string][]float64
	Grids   map[string]datafile.Matrix
	Scalars map[string]float64
	Meta    map[string]string

	// order is the order columns were first added in
	order []string
}

// NewResult returns an empty result for recipe
func NewResult(recipe string) *Result {
	return &Result{
		Recipe:  recipe,
		Started: time.Now(),
		Columns: map[string][]float64{},
		Grids:   map[string]datafile.Matrix{},
		Scalars: map[string]float64{},
		Meta:    map[string]string{},
	}
}

// Append adds v to the end of column name
func (r *Result) Append(name string, v float64) {
	if _, ok := r.Columns[name]; !ok {
		r.order = append(r.order, name)
	}
	r.Columns[name] = append(r.Columns[name], v)
}

// SetColumn replaces column name with v
func (r *Result) SetColumn(name string, v []float64) {
	if _, ok := r.Columns[name]; !ok {
		r.order = append(r.order, name)
	}
	r.Columns[name] = v
}

// Describe stores a descriptive string, under a name usable in a .mat file
func (r *Result) Describe(key, value string) {
	r.Meta[datafile.MatName(key)] = value
}

// SetParameters records the settings a recipe ran with as param_<name>.
// Numbers and bools become scalars, everything else a string
func (r *Result) SetParameters(params map[string]interface{}) {
	for k, v := range params {
		name := datafile.MatName("param_" + k)
		switch x := v.(type) {
		case float64:
			r.Scalars[name] = x
		case int:
			r.Scalars[name] = float64(x)
		case bool:
			r.Scalars[name] = boolFloat(x)
		case []string:
			r.Meta[name] = strings.Join(x, ",")
		default:
			r.Meta[name] = fmt.Sprint(x)
		}
	}
}

// ColumnNames returns the column names in the order they were added
func (r *Result) ColumnNames() []string {
	return append([]string(nil), r.order...)
}

// Variables returns everything in the result keyed by name, as written to
// a .mat file
func (r *Result) Variables() map[string]interface{} {
	vars := map[string]interface{}{}
	for k, v := range r.Meta {
		vars[k] = v
	}
	for k, v := range r.Scalars {
		vars[k] = v
	}
	for k, v := range r.Columns {
		vars[k] = v
	}
	for k, v := range r.Grids {
		vars[k] = v
	}
	vars["recipe"] = r.Recipe
	vars["started"] = r.Started.Format(time.RFC3339)
	if !r.Finished.IsZero() {
		vars["elapsed"] = r.Finished.Sub(r.Started).Seconds()
	}
	return vars
}

// Save writes the result to <dir>/<name>.mat and returns the path
func (r *Result) Save(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".mat")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err = datafile.WriteMat(f, r.Variables()); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "writing %s", path)
	}
	return path, f.Close()
}

// SaveCSV writes the columns to <dir>/<name>.csv and returns the path
func (r *Result) SaveCSV(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	names := r.ColumnNames()
	cols := make([][]float64, len(names))
	for i, n := range names {
		cols[i] = r.Columns[n]
	}
	if err = datafile.WriteCSV(f, names, cols); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// SaveFITS writes each grid to <dir>/<name>_<grid>.fits and returns the paths
func (r *Result) SaveFITS(dir, name string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	grids := make([]string, 0, len(r.Grids))
	for k := range r.Grids {
		grids = append(grids, k)
	}
	sort.Strings(grids)
	var paths []string
	for _, g := range grids {
		path := filepath.Join(dir, name+"_"+g+".fits")
		f, err := os.Create(path)
		if err != nil {
			return paths, err
		}
		cards := []fitsio.Card{
			{Name: "RECIPE", Value: r.Recipe},
			{Name: "GRID", Value: g},
			{Name: "DATE-OBS", Value: r.Started.UTC().Format("2006-01-02T15:04:05")},
		}
		if err = datafile.WriteFITS(f, cards, r.Grids[g]); err != nil {
			f.Close()
			return paths, errors.Wrapf(err, "writing %s", path)
		}
		if err = f.Close(); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
