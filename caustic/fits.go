package caustic

import (
	"io"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"
)

// TableName is the EXTNAME of the scan table
const TableName = "CAUSTIC"

func headerCards(scan *Scan, an *Analysis) []fitsio.Card {
	cards := []fitsio.Card{
		{Name: "STGAXIS", Value: scan.Axis, Comment: "stage axis"},
		{Name: "SAMPLES", Value: scan.Samples, Comment: "revolutions averaged per point"},
		{Name: "ZERR", Value: scan.PositionErr, Comment: "position uncertainty, mm"},
		{Name: "DATE-OBS", Value: scan.Start.UTC().Format("2006-01-02T15:04:05"), Comment: "scan start, UTC"},
	}
	if an == nil {
		return cards
	}
	cards = append(cards,
		fitsio.Card{Name: "WAVELEN", Value: an.Config.Wavelength, Comment: "wavelength, nm"},
		fitsio.Card{Name: "WAVEERR", Value: an.Config.WavelengthErr, Comment: "wavelength uncertainty, nm"},
		fitsio.Card{Name: "FITMODE", Value: an.Config.Mode.String(), Comment: "caustic model"},
		fitsio.Card{Name: "BACKEND", Value: an.Config.Backend.String(), Comment: "regression"},
	)
	for _, ax := range []struct {
		val, err string
		res      AxisResult
	}{
		{"MSQX", "MSQXERR", an.X},
		{"MSQY", "MSQYERR", an.Y},
	} {
		if !ax.res.OK() {
			continue
		}
		cards = append(cards,
			fitsio.Card{Name: ax.val, Value: ax.res.MSquared.Value, Comment: "M squared"},
			fitsio.Card{Name: ax.err, Value: ax.res.MSquared.Err, Comment: "M squared 1 sigma"},
		)
	}
	return cards
}

// WriteFITS streams scan to w as a FITS file with an empty primary HDU
// carrying the scan and analysis metadata, and a binary table of
// position (Z, mm) and D4σ diameter and its standard deviation on each axis
// (DX, SX, DY, SY, µm).  an may be nil
func WriteFITS(w io.Writer, scan *Scan, an *Analysis) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer f.Close()

	phdu := fitsio.NewImage(8, nil)
	defer phdu.Close()
	err = phdu.Header().Append(headerCards(scan, an)...)
	if err != nil {
		return err
	}
	if err = f.Write(phdu); err != nil {
		return err
	}

	cols := []fitsio.Column{
		{Name: "Z", Format: "D", Unit: "mm"},
		{Name: "DX", Format: "D", Unit: "um"},
		{Name: "SX", Format: "D", Unit: "um"},
		{Name: "DY", Format: "D", Unit: "um"},
		{Name: "SY", Format: "D", Unit: "um"},
	}
	tbl, err := fitsio.NewTable(TableName, cols, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()
	for _, p := range scan.Points {
		z, dx, sx, dy, sy := p.Z, p.Width.X.Mean, p.Width.X.Std, p.Width.Y.Mean, p.Width.Y.Std
		if err = tbl.Write(&z, &dx, &sx, &dy, &sy); err != nil {
			return err
		}
	}
	return f.Write(tbl)
}

// WriteFITSGzip is WriteFITS with gzip compression, for .fits.gz files
func WriteFITSGzip(w io.Writer, scan *Scan, an *Analysis) error {
	zw := gzip.NewWriter(w)
	if err := WriteFITS(zw, scan, an); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
