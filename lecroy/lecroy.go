/*
Package lecroy provides an interface to Teledyne LeCroy oscilloscopes.

Most settings are reached through the scope's VBS automation layer, which
exposes the whole of the XStream object model as app.* properties.  Waveforms
are transferred in LeCroy's binary WAVEDESC format.
*/
package lecroy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/qnngroup/qnnlab/comm"
	"github.com/qnngroup/qnnlab/oscilloscope"
	"github.com/qnngroup/qnnlab/scpi"
)

// trigger modes understood by app.Acquisition.TriggerMode
const (
	TriggerAuto    = "Auto"
	TriggerNormal  = "Normal"
	TriggerSingle  = "Single"
	TriggerStopped = "Stopped"
)

// pngTrailer ends every PNG file, the IEND chunk and its CRC
var pngTrailer = []byte{'I', 'E', 'N', 'D', 0xae, 0x42, 0x60, 0x82}

// Scope is an interface to a LeCroy oscilloscope
type Scope struct {
	scpi.SCPI

	// PollInterval is the time between trigger state checks in WaitForTrigger
	PollInterval time.Duration
}

// NewScope creates a new scope using pool for communication.  Waveform
// transfers are slow, so the timeout is generous
func NewScope(pool *comm.Pool) *Scope {
	return &Scope{
		SCPI:         scpi.SCPI{Pool: pool, Timeout: 30 * time.Second},
		PollInterval: 50 * time.Millisecond,
	}
}

// VBS executes a statement in the automation layer
func (s *Scope) VBS(stmt string) error {
	return s.Write(fmt.Sprintf("VBS '%s'", stmt))
}

// VBSQuery evaluates expr in the automation layer and returns the result
func (s *Scope) VBSQuery(expr string) (string, error) {
	resp, err := s.ReadString(fmt.Sprintf("VBS? 'return=%s'", expr))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimPrefix(resp, "VBS ")), nil
}

func (s *Scope) vbsFloat(expr string) (float64, error) {
	resp, err := s.VBSQuery(expr)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(resp, 64)
	return f, errors.Wrapf(err, "parsing %s", expr)
}

// Configure sets the communication format the decoder expects: no command
// headers in replies and little endian 16 bit samples
func (s *Scope) Configure() error {
	for _, cmd := range []string{"COMM_HEADER OFF", "COMM_FORMAT DEF9,WORD,BIN", "COMM_ORDER LO"} {
		if err := s.Write(cmd); err != nil {
			return errors.Wrap(err, "configuring scope")
		}
	}
	return nil
}

// SetTriggerMode sets the trigger mode, one of Auto, Normal, Single, Stopped
func (s *Scope) SetTriggerMode(mode string) error {
	return s.VBS(fmt.Sprintf("app.Acquisition.TriggerMode = \"%s\"", mode))
}

// GetTriggerMode returns the trigger mode
func (s *Scope) GetTriggerMode() (string, error) {
	return s.VBSQuery("app.Acquisition.TriggerMode")
}

// SetTriggerLevel sets the trigger level on a channel, e.g. C1, in volts
func (s *Scope) SetTriggerLevel(channel string, volts float64) error {
	return s.VBS(fmt.Sprintf("app.Acquisition.Trigger.%s.Level = %g", channel, volts))
}

// SetTriggerSource sets the channel the scope triggers on
func (s *Scope) SetTriggerSource(channel string) error {
	return s.VBS(fmt.Sprintf("app.Acquisition.Trigger.Source = \"%s\"", channel))
}

// SetVerticalScale sets a channel's scale in volts per division
func (s *Scope) SetVerticalScale(channel string, voltsPerDiv float64) error {
	return s.VBS(fmt.Sprintf("app.Acquisition.%s.VerScale = %g", channel, voltsPerDiv))
}

// GetVerticalScale returns a channel's scale in volts per division
func (s *Scope) GetVerticalScale(channel string) (float64, error) {
	return s.vbsFloat(fmt.Sprintf("app.Acquisition.%s.VerScale", channel))
}

// SetVerticalOffset sets a channel's offset in volts
func (s *Scope) SetVerticalOffset(channel string, volts float64) error {
	return s.VBS(fmt.Sprintf("app.Acquisition.%s.VerOffset = %g", channel, volts))
}

// SetHorizontalScale sets the timebase in seconds per division
func (s *Scope) SetHorizontalScale(secsPerDiv float64) error {
	return s.VBS(fmt.Sprintf("app.Acquisition.Horizontal.HorScale = %g", secsPerDiv))
}

// GetHorizontalScale returns the timebase in seconds per division
func (s *Scope) GetHorizontalScale() (float64, error) {
	return s.vbsFloat("app.Acquisition.Horizontal.HorScale")
}

// SetHorizontalOffset sets the trigger delay in seconds
func (s *Scope) SetHorizontalOffset(secs float64) error {
	return s.VBS(fmt.Sprintf("app.Acquisition.Horizontal.HorOffset = %g", secs))
}

// ClearSweeps resets accumulated measurements and averages
func (s *Scope) ClearSweeps() error {
	return s.VBS("app.ClearSweeps")
}

// GetParameter returns the last value of measurement parameter Pn
func (s *Scope) GetParameter(n int) (float64, error) {
	return s.vbsFloat(fmt.Sprintf("app.Measure.P%d.Out.Result.Value", n))
}

// GetParameterMean returns the running mean of measurement parameter Pn
func (s *Scope) GetParameterMean(n int) (float64, error) {
	return s.vbsFloat(fmt.Sprintf("app.Measure.P%d.Mean.Result.Value", n))
}

// WaitForTrigger blocks until a single acquisition has completed, that is
// until the trigger mode reads Stopped
func (s *Scope) WaitForTrigger(ctx context.Context) error {
	tick := time.NewTicker(s.PollInterval)
	defer tick.Stop()
	for {
		mode, err := s.GetTriggerMode()
		if err != nil {
			return err
		}
		if strings.EqualFold(mode, TriggerStopped) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// Waveform transfers channel (C1..C4, F1..) from the scope
func (s *Scope) Waveform(channel string) (oscilloscope.Waveform, error) {
	data, err := s.ReadBlock(channel + ":WF? ALL")
	if err != nil {
		return oscilloscope.Waveform{}, errors.Wrapf(err, "reading %s waveform", channel)
	}
	return DecodeWaveform(channel, data)
}

// AcquireWaveform arms a single acquisition, waits for it, then transfers
// each of the channels
func (s *Scope) AcquireWaveform(ctx context.Context, channels []string) (oscilloscope.Waveform, error) {
	var ret oscilloscope.Waveform
	if err := s.SetTriggerMode(TriggerSingle); err != nil {
		return ret, err
	}
	if err := s.WaitForTrigger(ctx); err != nil {
		return ret, err
	}
	ret.Channels = map[string]oscilloscope.Channel{}
	for _, ch := range channels {
		wav, err := s.Waveform(ch)
		if err != nil {
			return ret, err
		}
		ret.DT, ret.T0 = wav.DT, wav.T0
		ret.Channels[ch] = wav.Channels[ch]
	}
	log.Debug().Strs("channels", channels).Msg("waveform acquired")
	return ret, nil
}

// Screenshot writes a PNG of the screen to w
func (s *Scope) Screenshot(w io.Writer) (err error) {
	err = s.Write("HCSU DEV, PNG, FORMAT, LANDSCAPE, BCKG, WHITE, DEST, REMOTE, PORT, NET, AREA, FULLSCREEN")
	if err != nil {
		return err
	}
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = scpi.DefaultTimeout
	}
	var wrap io.ReadWriter
	wrap, err = comm.NewTimeout(conn, timeout)
	if err != nil {
		return err
	}
	if _, err = wrap.Write([]byte("SCDP\n")); err != nil {
		return err
	}
	img, err := readPNG(wrap)
	if err != nil {
		return err
	}
	_, err = w.Write(img)
	return err
}

// readPNG reads from r until the PNG trailer has arrived
func readPNG(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if i := bytes.Index(out.Bytes(), pngTrailer); i >= 0 {
			img := out.Bytes()[:i+len(pngTrailer)]
			if start := bytes.Index(img, []byte("\x89PNG")); start > 0 {
				img = img[start:]
			}
			return img, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
