// Package oscilloscope provides type definitions for oscilloscope recordings
package oscilloscope

import (
	"bufio"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
)

// Waveform describes a waveform recording from a scope
type Waveform struct {
	// DT is the temporal sample spacing in seconds
	DT float64 `json:"dt"`

	// T0 is the time of the first sample relative to the trigger, in seconds
	T0 float64 `json:"t0"`

	// Channels holds named data streams
	Channels map[string]Channel
}

// Channel represents a stream of data from an ADC.  To convert to physical units,
// compute (data-reference)*scale+offset
type Channel struct {
	// Data is the actual buffer, []int8, []int16, []uint16, or similar
	Data Data

	// Scale is the vertical scale of the data or size of a single increment
	// in Data's native dtype
	Scale float64

	// Offset is the offset applied to the data, in physical units
	Offset float64

	// Reference is the reference value for the given channel in DN
	Reference float64
}

type number interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

func physical[T number](v []T, c Channel) []float64 {
	ret := make([]float64, len(v))
	for i := range v {
		ret[i] = ((float64(v[i]) - c.Reference) * c.Scale) + c.Offset
	}
	return ret
}

// Physical computes the data scaled to real units
func (c Channel) Physical() []float64 {
	switch v := c.Data.(type) {
	case []uint8:
		return physical(v, c)
	case []uint16:
		return physical(v, c)
	case []uint32:
		return physical(v, c)
	case []uint64:
		return physical(v, c)
	case []int8:
		return physical(v, c)
	case []int16:
		return physical(v, c)
	case []int32:
		return physical(v, c)
	case []int64:
		return physical(v, c)
	case []float32:
		return physical(v, c)
	case []float64:
		return physical(v, c)
	default:
		panic("attempt to convert non numerical data to physical units")
	}
}

// Len returns the number of samples in the channel
func (c Channel) Len() int {
	switch v := c.Data.(type) {
	case []uint8:
		return len(v)
	case []uint16:
		return len(v)
	case []uint32:
		return len(v)
	case []uint64:
		return len(v)
	case []int8:
		return len(v)
	case []int16:
		return len(v)
	case []int32:
		return len(v)
	case []int64:
		return len(v)
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	}
	return 0
}

// Data is a moniker for an empty interface, expected to be a slice of a concrete
// numerical type
type Data interface{}

// Times returns the time of each of n samples
func (wav *Waveform) Times(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = wav.T0 + float64(i)*wav.DT
	}
	return out
}

// Labels returns the channel names in sorted order
func (wav *Waveform) Labels() []string {
	labels := make([]string, 0, len(wav.Channels))
	for k := range wav.Channels {
		labels = append(labels, k)
	}
	sort.Strings(labels)
	return labels
}

// EncodeCSV converts the waveform data to physical units
// and writes it to a CSV in streaming fashion.  Columns are time, then
// each channel in sorted order
func (wav *Waveform) EncodeCSV(w io.Writer) error {
	labels := wav.Labels()
	data := make([][]float64, len(labels))
	length := 0
	for j, l := range labels {
		data[j] = wav.Channels[l].Physical()
		if j == 0 || len(data[j]) < length {
			length = len(data[j])
		}
	}
	times := wav.Times(length)

	buf := bufio.NewWriter(w)
	writer := csv.NewWriter(buf)
	row := append([]string{"time"}, labels...)
	if err := writer.Write(row); err != nil {
		return err
	}
	for i := 0; i < length; i++ {
		row[0] = strconv.FormatFloat(times[i], 'G', -1, 64)
		for j := range data {
			row[j+1] = strconv.FormatFloat(data[j][i], 'G', -1, 64)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return buf.Flush()
}
