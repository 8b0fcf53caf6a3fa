// Package tmc provides an HTTP interface to test and measurement devices
package tmc

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/qnngroup/qnnlab/generichttp"
	"github.com/qnngroup/qnnlab/instruments"
	"github.com/qnngroup/qnnlab/util"
)

func get(path string) generichttp.MethodPath {
	return generichttp.MethodPath{Method: http.MethodGet, Path: path}
}

func post(path string) generichttp.MethodPath {
	return generichttp.MethodPath{Method: http.MethodPost, Path: path}
}

// HTTPInstrument wraps an instrument in an HTTP route table.  Routes are
// added for each capability the instrument has
type HTTPInstrument struct {
	// Dev is the underlying instrument
	Dev interface{}

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPInstrument returns a new HTTP wrapper around dev
func NewHTTPInstrument(dev interface{}) HTTPInstrument {
	h := HTTPInstrument{Dev: dev, RouteTable: generichttp.RouteTable{}}
	rt := h.RouteTable
	if id, ok := dev.(instruments.Identifier); ok {
		rt[get("/idn")] = Identify(id)
	}
	if src, ok := dev.(instruments.VoltageSource); ok {
		HTTPVoltageSource(src, rt)
	}
	if m, ok := dev.(instruments.VoltMeter); ok {
		rt[get("/reading")] = generichttp.GetFloat(m.ReadVoltage)
	}
	if c, ok := dev.(instruments.PhotonCounter); ok {
		HTTPPhotonCounter(c, rt)
	}
	if a, ok := dev.(instruments.Attenuator); ok {
		HTTPAttenuator(a, rt)
	}
	if s, ok := dev.(instruments.Oscilloscope); ok {
		HTTPOscilloscope(s, rt)
	}
	if sc, ok := dev.(instruments.Screenshotter); ok {
		rt[get("/screenshot")] = Screenshot(sc)
	}
	if g, ok := dev.(instruments.WaveformGenerator); ok {
		HTTPWaveformGenerator(g, rt)
	}
	if v, ok := dev.(instruments.NetworkAnalyzer); ok {
		HTTPNetworkAnalyzer(v, rt)
	}
	if t, ok := dev.(instruments.Thermometer); ok {
		rt[get("/temperature/{channel}")] = ReadKelvin(t)
	}
	if raw, ok := dev.(generichttp.RawCommunicator); ok {
		generichttp.InjectRaw(h, raw)
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPInstrument) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Identify replies with the instrument's *IDN? response
func Identify(id instruments.Identifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := id.Identify()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.Reply(w, ident)
	}
}

// HTTPVoltageSource binds /voltage and /output
func HTTPVoltageSource(src instruments.VoltageSource, table generichttp.RouteTable) {
	table[get("/voltage")] = generichttp.GetFloat(src.GetVoltage)
	table[post("/voltage")] = generichttp.SetFloat(src.SetVoltage)
	table[get("/output")] = generichttp.GetBool(src.GetOutput)
	table[post("/output")] = generichttp.SetBool(src.SetOutput)
}

// HTTPPhotonCounter binds /counts, /gate and /trigger-level.  A GET of
// /counts takes one gate and is canceled if the client goes away
func HTTPPhotonCounter(c instruments.PhotonCounter, table generichttp.RouteTable) {
	table[get("/counts")] = func(w http.ResponseWriter, r *http.Request) {
		generichttp.GetFloat(func() (float64, error) { return c.Counts(r.Context()) })(w, r)
	}
	table[post("/gate")] = generichttp.SetFloat(func(secs float64) error {
		return c.SetupTotalize(util.SecsToDuration(secs))
	})
	table[get("/trigger-level")] = generichttp.GetFloat(c.GetTriggerLevel)
	table[post("/trigger-level")] = generichttp.SetFloat(c.SetTriggerLevel)
}

// HTTPAttenuator binds /attenuation and /enabled
func HTTPAttenuator(a instruments.Attenuator, table generichttp.RouteTable) {
	table[get("/attenuation")] = generichttp.GetFloat(a.GetAttenuation)
	table[post("/attenuation")] = generichttp.SetFloat(a.SetAttenuation)
	table[get("/enabled")] = generichttp.GetBool(a.GetEnabled)
	table[post("/enabled")] = generichttp.SetBool(a.SetEnabled)
}

// HTTPOscilloscope binds the trigger controls, /acquire which takes a
// single shot and waits for it, and /waveform/{channel} which replies with CSV
func HTTPOscilloscope(s instruments.Oscilloscope, table generichttp.RouteTable) {
	table[get("/trigger-mode")] = generichttp.GetString(s.GetTriggerMode)
	table[post("/trigger-mode")] = generichttp.SetString(s.SetTriggerMode)
	table[post("/trigger-source")] = generichttp.SetString(s.SetTriggerSource)
	table[post("/trigger-level/{channel}")] = func(w http.ResponseWriter, r *http.Request) {
		ch := chi.URLParam(r, "channel")
		generichttp.SetFloat(func(v float64) error { return s.SetTriggerLevel(ch, v) })(w, r)
	}
	table[post("/acquire")] = func(w http.ResponseWriter, r *http.Request) {
		if err := acquire(r.Context(), s); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
	table[get("/waveform/{channel}")] = func(w http.ResponseWriter, r *http.Request) {
		wav, err := s.Waveform(chi.URLParam(r, "channel"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		if err := wav.EncodeCSV(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Screenshot replies with a PNG of the instrument's screen
func Screenshot(sc instruments.Screenshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := sc.Screenshot(&buf); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}
}

func acquire(ctx context.Context, s instruments.Oscilloscope) error {
	if err := s.SetTriggerMode("Single"); err != nil {
		return err
	}
	return s.WaitForTrigger(ctx)
}

// HTTPWaveformGenerator binds /ch/{ch}/waveform, frequency, amplitude,
// offset and output
func HTTPWaveformGenerator(g instruments.WaveformGenerator, table generichttp.RouteTable) {
	table[post("/ch/{ch}/waveform")] = withChannel(func(ch int, w http.ResponseWriter, r *http.Request) {
		generichttp.SetString(func(s string) error { return g.SetWaveform(ch, s) })(w, r)
	})
	floats := map[string]func(int, float64) error{
		"frequency": g.SetFrequency,
		"amplitude": g.SetAmplitude,
		"offset":    g.SetOffset,
	}
	for name, set := range floats {
		set := set
		table[post("/ch/{ch}/"+name)] = withChannel(func(ch int, w http.ResponseWriter, r *http.Request) {
			generichttp.SetFloat(func(f float64) error { return set(ch, f) })(w, r)
		})
	}
	table[post("/ch/{ch}/output")] = withChannel(func(ch int, w http.ResponseWriter, r *http.Request) {
		generichttp.SetBool(func(on bool) error { return g.SetOutput(ch, on) })(w, r)
	})
}

// withChannel parses the {ch} URL parameter
func withChannel(f func(ch int, w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := strconv.Atoi(chi.URLParam(r, "ch"))
		if err != nil {
			http.Error(w, "channel must be an integer", http.StatusBadRequest)
			return
		}
		f(ch, w, r)
	}
}

// Trace is one S21 sweep as sent over HTTP
type Trace struct {
	Frequency []float64 `json:"frequency"`
	Real      []float64 `json:"real"`
	Imag      []float64 `json:"imag"`
}

// HTTPNetworkAnalyzer binds the sweep setup and POST /sweep, which runs
// one sweep and replies with a Trace
func HTTPNetworkAnalyzer(v instruments.NetworkAnalyzer, table generichttp.RouteTable) {
	table[post("/configure-s21")] = func(w http.ResponseWriter, r *http.Request) {
		if err := v.ConfigureS21(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
	table[post("/start")] = generichttp.SetFloat(v.SetStartFrequency)
	table[post("/stop")] = generichttp.SetFloat(v.SetStopFrequency)
	table[post("/points")] = generichttp.SetInt(v.SetPoints)
	table[post("/if-bandwidth")] = generichttp.SetFloat(v.SetIFBandwidth)
	table[post("/power")] = generichttp.SetFloat(v.SetPower)
	table[post("/averages")] = generichttp.SetInt(v.SetAverages)
	table[post("/rf-output")] = generichttp.SetBool(v.SetOutput)
	table[post("/sweep")] = func(w http.ResponseWriter, r *http.Request) {
		var t Trace
		err := v.Sweep(r.Context())
		if err == nil {
			t.Frequency, err = v.Frequencies()
		}
		if err == nil {
			t.Real, t.Imag, err = v.RealImag()
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		generichttp.Reply(w, t)
	}
}

// ReadKelvin replies with the temperature of the {channel} sensor
func ReadKelvin(t instruments.Thermometer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch := chi.URLParam(r, "channel")
		generichttp.GetFloat(func() (float64, error) {
			k, err := t.ReadKelvin(ch)
			return float64(k), err
		})(w, r)
	}
}
