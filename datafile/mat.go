/*
Package datafile writes measurement results to disk.

MATLAB Level 5 .mat files are the primary format; they load directly with
scipy.io.loadmat or MATLAB's load.  Only the subset needed for results is
encoded: real double arrays of up to two dimensions and char arrays.
*/
package datafile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"time"
	"unicode/utf16"

	"github.com/pkg/errors"
)

// data types
const (
	miINT8   = 1
	miUINT16 = 4
	miINT32  = 5
	miUINT32 = 6
	miDOUBLE = 9
	miMATRIX = 14
)

// array classes
const (
	mxCHAR   = 4
	mxDOUBLE = 6
)

const (
	headerTextLen = 116
	maxNameLen    = 63
)

var le = binary.LittleEndian

// Matrix is a 2-D array of doubles stored row major
type Matrix struct {
	Rows, Cols int
	Data       []float64
}

// NewMatrix packs rows, which must all have the same length, into a Matrix
func NewMatrix(rows [][]float64) (Matrix, error) {
	m := Matrix{Rows: len(rows)}
	if len(rows) == 0 {
		return m, nil
	}
	m.Cols = len(rows[0])
	m.Data = make([]float64, 0, m.Rows*m.Cols)
	for i, r := range rows {
		if len(r) != m.Cols {
			return Matrix{}, errors.Errorf("row %d has %d columns, expected %d", i, len(r), m.Cols)
		}
		m.Data = append(m.Data, r...)
	}
	return m, nil
}

// At returns the element at row i, column j
func (m Matrix) At(i, j int) float64 {
	return m.Data[i*m.Cols+j]
}

// ValidName reports whether name is usable as a MATLAB variable name
func ValidName(name string) bool {
	if name == "" || len(name) > maxNameLen {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '_' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

// MatName turns s into a valid variable name, "Sample name" becomes
// Sample_name.  Names starting with a digit or underscore get an x prefix
func MatName(s string) string {
	b := []byte(s)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			b[i] = '_'
		}
	}
	out := string(b)
	if out == "" || !(out[0] >= 'a' && out[0] <= 'z' || out[0] >= 'A' && out[0] <= 'Z') {
		out = "x" + out
	}
	if len(out) > maxNameLen {
		out = out[:maxNameLen]
	}
	return out
}

// WriteMat writes vars to w as a Level 5 MAT file.  Values may be float64,
// int, []float64 (stored as a row vector), Matrix or string.  Variables are
// written in sorted order
func WriteMat(w io.Writer, vars map[string]interface{}) error {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	writeHeader(&buf, time.Now())
	for _, name := range names {
		if !ValidName(name) {
			return errors.Errorf("invalid MATLAB variable name %q", name)
		}
		var err error
		switch v := vars[name].(type) {
		case float64:
			err = writeDouble(&buf, name, 1, 1, []float64{v})
		case int:
			err = writeDouble(&buf, name, 1, 1, []float64{float64(v)})
		case []float64:
			err = writeDouble(&buf, name, 1, len(v), v)
		case Matrix:
			err = writeDouble(&buf, name, v.Rows, v.Cols, columnMajor(v))
		case string:
			err = writeChar(&buf, name, v)
		default:
			err = errors.Errorf("variable %s: unsupported type %T", name, v)
		}
		if err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func writeHeader(buf *bytes.Buffer, now time.Time) {
	text := fmt.Sprintf("MATLAB 5.0 MAT-file, Platform: GLNXA64, Created on: %s", now.Format("Mon Jan _2 15:04:05 2006"))
	hdr := make([]byte, 128)
	for i := range hdr[:headerTextLen] {
		hdr[i] = ' '
	}
	copy(hdr, text)
	// bytes 116:124 are the subsystem data offset, left zero
	le.PutUint16(hdr[124:], 0x0100)
	copy(hdr[126:], "IM")
	buf.Write(hdr)
}

func columnMajor(m Matrix) []float64 {
	out := make([]float64, len(m.Data))
	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			out[j*m.Rows+i] = m.Data[i*m.Cols+j]
		}
	}
	return out
}

func pad8(n int) int {
	return (8 - n%8) % 8
}

// element appends a tagged data element padded to 8 bytes
func element(buf *bytes.Buffer, typ uint32, data []byte) {
	var tag [8]byte
	le.PutUint32(tag[:], typ)
	le.PutUint32(tag[4:], uint32(len(data)))
	buf.Write(tag[:])
	buf.Write(data)
	buf.Write(make([]byte, pad8(len(data))))
}

// matrix writes the miMATRIX wrapper around a body built by fill
func matrix(buf *bytes.Buffer, class uint32, name string, rows, cols int, fill func(*bytes.Buffer)) error {
	if rows*cols > 1<<28 {
		return errors.Errorf("variable %s is too large", name)
	}
	var body bytes.Buffer
	flags := make([]byte, 8)
	le.PutUint32(flags, class)
	element(&body, miUINT32, flags)
	dims := make([]byte, 8)
	le.PutUint32(dims, uint32(rows))
	le.PutUint32(dims[4:], uint32(cols))
	element(&body, miINT32, dims)
	element(&body, miINT8, []byte(name))
	fill(&body)
	element(buf, miMATRIX, body.Bytes())
	return nil
}

func writeDouble(buf *bytes.Buffer, name string, rows, cols int, data []float64) error {
	if len(data) != rows*cols {
		return errors.Errorf("variable %s has %d values for a %dx%d array", name, len(data), rows, cols)
	}
	return matrix(buf, mxDOUBLE, name, rows, cols, func(b *bytes.Buffer) {
		raw := make([]byte, 8*len(data))
		for i, f := range data {
			le.PutUint64(raw[8*i:], math.Float64bits(f))
		}
		element(b, miDOUBLE, raw)
	})
}

func writeChar(buf *bytes.Buffer, name, s string) error {
	units := utf16.Encode([]rune(s))
	return matrix(buf, mxCHAR, name, 1, len(units), func(b *bytes.Buffer) {
		raw := make([]byte, 2*len(units))
		for i, u := range units {
			le.PutUint16(raw[2*i:], u)
		}
		element(b, miUINT16, raw)
	})
}
