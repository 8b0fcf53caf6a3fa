package lecroy

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/qnngroup/qnnlab/oscilloscope"
)

// byte offsets into the WAVEDESC block
const (
	offCommType       = 32
	offCommOrder      = 34
	offWaveDescriptor = 36
	offUserText       = 40
	offResDesc1       = 44
	offTrigtimeArray  = 48
	offRisTime        = 52
	offResArray1      = 56
	offWaveArray1     = 60
	offWaveArrayCount = 116
	offVerticalGain   = 156
	offVerticalOffset = 160
	offHorizInterval  = 176
	offHorizOffset    = 180

	minDescriptor = 346
)

// ErrNoDescriptor is returned when a waveform has no WAVEDESC block
var ErrNoDescriptor = errors.New("lecroy: WAVEDESC not found")

// Descriptor holds the fields of WAVEDESC needed to scale a waveform
type Descriptor struct {
	// Word is true for 16 bit samples, false for 8 bit
	Word         bool
	Order        binary.ByteOrder
	DescLength   int
	UserText     int
	TrigTime     int
	RisTime      int
	Reserved     int
	WaveArray1   int
	Count        int
	VerticalGain float32
	VerticalOff  float32
	HorizInt     float32
	HorizOff     float64
}

// ParseDescriptor decodes the WAVEDESC block at the start of b
func ParseDescriptor(b []byte) (Descriptor, error) {
	var d Descriptor
	if len(b) < minDescriptor {
		return d, errors.Errorf("lecroy: descriptor is %d bytes, need %d", len(b), minDescriptor)
	}
	// COMM_ORDER is 0 for big endian, 1 for little.  Written in its own order,
	// so the low byte is set only in the little endian case
	if b[offCommOrder] == 1 {
		d.Order = binary.LittleEndian
	} else {
		d.Order = binary.BigEndian
	}
	o := d.Order
	d.Word = o.Uint16(b[offCommType:]) == 1
	d.DescLength = int(int32(o.Uint32(b[offWaveDescriptor:])))
	d.UserText = int(int32(o.Uint32(b[offUserText:])))
	d.TrigTime = int(int32(o.Uint32(b[offTrigtimeArray:])))
	d.RisTime = int(int32(o.Uint32(b[offRisTime:])))
	d.WaveArray1 = int(int32(o.Uint32(b[offWaveArray1:])))
	d.Count = int(int32(o.Uint32(b[offWaveArrayCount:])))
	d.VerticalGain = math.Float32frombits(o.Uint32(b[offVerticalGain:]))
	d.VerticalOff = math.Float32frombits(o.Uint32(b[offVerticalOffset:]))
	d.HorizInt = math.Float32frombits(o.Uint32(b[offHorizInterval:]))
	d.HorizOff = math.Float64frombits(o.Uint64(b[offHorizOffset:]))
	// the two reserved blocks are always empty on current firmware but
	// still count toward the data offset
	d.Reserved = int(int32(o.Uint32(b[offResDesc1:]))) + int(int32(o.Uint32(b[offResArray1:])))
	if d.DescLength < minDescriptor || d.WaveArray1 < 0 || d.Reserved < 0 {
		return d, errors.Errorf("lecroy: implausible descriptor lengths %d/%d", d.DescLength, d.WaveArray1)
	}
	return d, nil
}

// DataOffset is the index of the first sample relative to the descriptor
func (d Descriptor) DataOffset() int {
	return d.DescLength + d.UserText + d.Reserved + d.TrigTime + d.RisTime
}

// DecodeWaveform decodes the reply to Cn:WF? ALL.  Anything before the
// WAVEDESC marker is ignored.  The channel is scaled so that
// value = gain*raw - offset
func DecodeWaveform(name string, b []byte) (oscilloscope.Waveform, error) {
	var wav oscilloscope.Waveform
	start := bytes.Index(b, []byte("WAVEDESC"))
	if start < 0 {
		return wav, ErrNoDescriptor
	}
	b = b[start:]
	d, err := ParseDescriptor(b)
	if err != nil {
		return wav, err
	}
	off := d.DataOffset()
	end := off + d.WaveArray1
	if end > len(b) {
		return wav, errors.Errorf("lecroy: waveform truncated, have %d bytes, need %d", len(b), end)
	}
	raw := b[off:end]
	ch := oscilloscope.Channel{
		Scale:  float64(d.VerticalGain),
		Offset: -float64(d.VerticalOff),
	}
	if d.Word {
		data := make([]int16, len(raw)/2)
		for i := range data {
			data[i] = int16(d.Order.Uint16(raw[2*i:]))
		}
		ch.Data = data
	} else {
		data := make([]int8, len(raw))
		for i := range data {
			data[i] = int8(raw[i])
		}
		ch.Data = data
	}
	wav.DT = float64(d.HorizInt)
	wav.T0 = d.HorizOff
	wav.Channels = map[string]oscilloscope.Channel{name: ch}
	return wav, nil
}
