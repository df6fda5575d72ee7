package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/msquared/beamprofiler"
	"github.com/nasa-jpl/msquared/caustic"
	"github.com/nasa-jpl/msquared/fitting"
	"github.com/nasa-jpl/msquared/generichttp/motion"
)

// Config holds the measurement and fit settings
type Config struct {
	// Stage is the URL of the stage node, e.g. http://lab:8000/bench/stage
	Stage string `koanf:"Stage" yaml:"Stage"`

	// Profiler is the URL of the profiler node
	Profiler string `koanf:"Profiler" yaml:"Profiler"`

	// Axis is the stage axis carrying the profiler
	Axis string `koanf:"Axis" yaml:"Axis"`

	// Start, Stop and Step define the scan positions, mm
	Start float64 `koanf:"Start" yaml:"Start"`
	Stop  float64 `koanf:"Stop" yaml:"Stop"`
	Step  float64 `koanf:"Step" yaml:"Step"`

	// Samples is the number of revolutions averaged per point
	Samples int `koanf:"Samples" yaml:"Samples"`

	// Settle is the dwell after each move
	Settle time.Duration `koanf:"Settle" yaml:"Settle"`

	// PositionErr is the 1σ stage position uncertainty, mm
	PositionErr float64 `koanf:"PositionErr" yaml:"PositionErr"`

	Backend       string  `koanf:"Backend" yaml:"Backend"`
	Mode          string  `koanf:"Mode" yaml:"Mode"`
	Wavelength    float64 `koanf:"Wavelength" yaml:"Wavelength"`
	WavelengthErr float64 `koanf:"WavelengthErr" yaml:"WavelengthErr"`

	// RelErr is the width uncertainty used by fit when the file has none
	RelErr float64 `koanf:"RelErr" yaml:"RelErr"`

	// Output is the prefix of the files written, e.g. out/caustic
	// produces out/caustic.fits.gz and out/caustic-x.png
	Output string `koanf:"Output" yaml:"Output"`

	// Gzip compresses the FITS file
	Gzip bool `koanf:"Gzip" yaml:"Gzip"`
}

// FitConfig parses the backend and mode
func (c Config) FitConfig() (fitting.Config, error) {
	fc := fitting.Config{Wavelength: c.Wavelength, WavelengthErr: c.WavelengthErr}
	var err error
	if fc.Backend, err = fitting.ParseBackend(c.Backend); err != nil {
		return fc, err
	}
	if fc.Mode, err = fitting.ParseMode(c.Mode); err != nil {
		return fc, err
	}
	return fc, nil
}

// Caustic is a dataset read from a file.  WErr and ZErr are nil when the
// file does not have the columns
type Caustic struct {
	Z, W, WErr, ZErr []float64
}

var errColumns = errors.New("rows must have 2 to 4 columns: z, w[, werr[, zerr]]")

// ReadCSV reads rows of z, w[, werr[, zerr]].  A first row that does not
// parse is taken as a header and skipped.  Every row must have the same
// number of columns
func ReadCSV(r io.Reader) (Caustic, error) {
	var c Caustic
	rdr := csv.NewReader(r)
	rdr.Comment = '#'
	rdr.TrimLeadingSpace = true
	records, err := rdr.ReadAll()
	if err != nil {
		return c, err
	}
	if len(records) == 0 {
		return c, errors.New("file is empty")
	}
	ncol := len(records[0])
	if ncol < 2 || ncol > 4 {
		return c, errColumns
	}
	cols := make([][]float64, ncol)
	for i, rec := range records {
		vals := make([]float64, ncol)
		for j, s := range rec {
			vals[j], err = strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				break
			}
		}
		if err != nil {
			if i == 0 {
				err = nil
				continue
			}
			return c, fmt.Errorf("row %d: %w", i+1, err)
		}
		for j := range vals {
			cols[j] = append(cols[j], vals[j])
		}
	}
	c.Z, c.W = cols[0], cols[1]
	if ncol > 2 {
		c.WErr = cols[2]
	}
	if ncol > 3 {
		c.ZErr = cols[3]
	}
	return c, nil
}

// FitFile fits the caustic in the CSV file at path and writes the report to w
func FitFile(path string, cfg Config, w io.Writer) (*fitting.MsqFitter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	fc, err := cfg.FitConfig()
	if err != nil {
		return nil, err
	}
	m, err := fitting.NewMsqFitter(fc)
	if err != nil {
		return nil, err
	}
	var yerr fitting.Sigma = fitting.Relative(cfg.RelErr)
	if data.WErr != nil {
		yerr = fitting.PerSample(data.WErr)
	}
	var xerr fitting.Sigma
	if data.ZErr != nil {
		xerr = fitting.PerSample(data.ZErr)
	}
	if err = m.LoadData(data.Z, data.W, xerr, yerr); err != nil {
		return nil, err
	}
	if _, err = m.EstimateAndFit(); err != nil {
		return nil, err
	}
	return m, m.Report(w)
}

// newSpinner returns a spinner on stdout, or nil if the terminal cannot
// show one
func newSpinner(msg string) *yacspin.Spinner {
	s, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopMessage:       "done",
		StopFailCharacter: "✗",
		StopFailMessage:   "failed",
	})
	if err != nil {
		return nil
	}
	if err = s.Start(); err != nil {
		return nil
	}
	return s
}

// Measure runs a scan against the remote stage and profiler described by cfg
func Measure(ctx context.Context, cfg Config) (*caustic.Scan, error) {
	pos, err := caustic.LinearPlan(cfg.Start, cfg.Stop, cfg.Step)
	if err != nil {
		return nil, err
	}
	plan := caustic.Plan{
		Axis:        cfg.Axis,
		Positions:   pos,
		Samples:     cfg.Samples,
		Settle:      cfg.Settle,
		PositionErr: cfg.PositionErr,
	}
	spin := newSpinner(fmt.Sprintf("scanning %d points", len(pos)))
	if spin != nil {
		plan.Progress = func(done, total int) {
			spin.Message(fmt.Sprintf("%d/%d", done, total))
		}
	}
	stg := motion.NewClient(cfg.Stage)
	prof := beamprofiler.NewRemote(cfg.Profiler)
	scan, err := caustic.Run(ctx, stg, prof, plan)
	if spin != nil {
		if err != nil {
			spin.StopFail()
		} else {
			spin.Stop()
		}
	}
	return scan, err
}

// WriteOutputs writes the FITS file and one PNG per fitted axis, returning
// the paths written
func WriteOutputs(cfg Config, scan *caustic.Scan, an *caustic.Analysis) ([]string, error) {
	var written []string
	name := cfg.Output + ".fits"
	write := caustic.WriteFITS
	if cfg.Gzip {
		name += ".gz"
		write = caustic.WriteFITSGzip
	}
	f, err := os.Create(name)
	if err != nil {
		return written, err
	}
	err = write(f, scan, an)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return written, err
	}
	written = append(written, name)
	if an == nil {
		return written, nil
	}
	for _, ax := range []beamprofiler.Axis{beamprofiler.AxisX, beamprofiler.AxisY} {
		res := an.Axis(ax)
		if !res.OK() {
			continue
		}
		p, err := fitting.PlotFit(res.Fitter.Fitter(), 200)
		if err != nil {
			return written, err
		}
		p.Title.Text = "Beam caustic, " + ax.String()
		p.X.Label.Text = "z [mm]"
		p.Y.Label.Text = "w [µm]"
		png := fmt.Sprintf("%s-%s.png", cfg.Output, ax)
		if err = fitting.SavePlot(p, png); err != nil {
			return written, err
		}
		written = append(written, png)
	}
	return written, nil
}
