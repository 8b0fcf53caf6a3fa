package datafile

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Log is an append-only CSV file with a header row.  Rows are buffered and
// flushed to disk every FlushEvery rows, and on Flush or Close
type Log struct {
	mu      sync.Mutex
	c       io.Closer
	w       *csv.Writer
	cols    int
	pending int

	// FlushEvery is the number of rows buffered between flushes; <= 1
	// flushes every row
	FlushEvery int
}

// NewLog writes header to w and returns a Log appending to it.  If w is an
// io.Closer, Close closes it
func NewLog(w io.Writer, header []string, flushEvery int) (*Log, error) {
	l := newLog(w, len(header), flushEvery)
	if err := l.w.Write(header); err != nil {
		return nil, err
	}
	l.w.Flush()
	return l, l.w.Error()
}

func newLog(w io.Writer, cols, flushEvery int) *Log {
	l := &Log{w: csv.NewWriter(w), cols: cols, FlushEvery: flushEvery}
	if c, ok := w.(io.Closer); ok {
		l.c = c
	}
	return l
}

// OpenLog opens the CSV file at path for appending, creating it and writing
// header if it does not exist or is empty
func OpenLog(path string, header []string, flushEvery int) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() > 0 {
		return newLog(f, len(header), flushEvery), nil
	}
	l, err := NewLog(f, header, flushEvery)
	if err != nil {
		f.Close()
	}
	return l, err
}

// FormatValue renders a cell.  Floats use the shortest representation that
// round trips, times are RFC3339 with nanoseconds
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return strconv.FormatFloat(x.Seconds(), 'g', -1, 64)
	case interface{ String() string }:
		return x.String()
	default:
		return ""
	}
}

// Append writes one row.  values must match the header length
func (l *Log) Append(values ...interface{}) error {
	if len(values) != l.cols {
		return errors.Errorf("row has %d values, log has %d columns", len(values), l.cols)
	}
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = FormatValue(v)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Write(row); err != nil {
		return err
	}
	l.pending++
	if l.pending >= l.FlushEvery {
		return l.flush()
	}
	return nil
}

func (l *Log) flush() error {
	l.pending = 0
	l.w.Flush()
	return l.w.Error()
}

// Flush writes buffered rows
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flush()
}

// Close flushes and closes the underlying file
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.flush()
	if l.c != nil {
		if cerr := l.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// WriteCSV writes named columns as a CSV table with a header row.  Columns
// shorter than the longest are padded with empty cells
func WriteCSV(w io.Writer, names []string, columns [][]float64) error {
	if len(names) != len(columns) {
		return errors.Errorf("%d names for %d columns", len(names), len(columns))
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(names); err != nil {
		return err
	}
	rows := 0
	for _, c := range columns {
		rows = max(rows, len(c))
	}
	row := make([]string, len(columns))
	for i := 0; i < rows; i++ {
		for j, c := range columns {
			row[j] = ""
			if i < len(c) {
				row[j] = FormatValue(c[i])
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
