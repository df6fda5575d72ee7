package fitting

import (
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// PlotSize is the edge length of plots written by SavePlot and WritePlot
var PlotSize = 6 * vg.Inch

type errorPoints struct {
	plotter.XYs
	plotter.YErrors
}

// PlotFit draws the loaded data with its y error bars and the fitted model
// evaluated at numPoints evenly spaced positions over the range of x
func PlotFit(f Fitter, numPoints int) (*plot.Plot, error) {
	d, err := f.Data()
	if err != nil {
		return nil, err
	}
	if _, err = f.Result(); err != nil {
		return nil, err
	}
	if numPoints < 2 {
		numPoints = 2
	}
	lo, hi := d.XRange()
	xs := make([]float64, numPoints)
	for i := range xs {
		xs[i] = lo + (hi-lo)*float64(i)/float64(numPoints-1)
	}
	ys, err := f.Predict(xs...)
	if err != nil {
		return nil, err
	}

	pts := errorPoints{
		XYs:     make(plotter.XYs, d.Len()),
		YErrors: make(plotter.YErrors, d.Len()),
	}
	for i := range d.X {
		pts.XYs[i] = plotter.XY{X: d.X[i], Y: d.Y[i]}
		pts.YErrors[i].Low = d.YErr[i]
		pts.YErrors[i].High = d.YErr[i]
	}
	model := make(plotter.XYs, numPoints)
	for i := range xs {
		model[i] = plotter.XY{X: xs[i], Y: ys[i]}
	}

	p := plot.New()
	p.Title.Text = "Beam caustic"
	p.X.Label.Text = "z"
	p.Y.Label.Text = "w"
	p.Add(plotter.NewGrid())

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, err
	}
	scatter.GlyphStyle.Radius = vg.Length(2)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	bars, err := plotter.NewYErrorBars(pts)
	if err != nil {
		return nil, err
	}
	line, err := plotter.NewLine(model)
	if err != nil {
		return nil, err
	}
	p.Add(scatter, bars, line)
	p.Legend.Add("data", scatter)
	p.Legend.Add("fit", line)
	return p, nil
}

// SavePlot writes p to path, the format given by the extension
func SavePlot(p *plot.Plot, path string) error {
	return p.Save(PlotSize, PlotSize, path)
}

// WritePlot encodes p to w in format, e.g. "png" or "svg"
func WritePlot(p *plot.Plot, w io.Writer, format string) error {
	wt, err := p.WriterTo(PlotSize, PlotSize, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
