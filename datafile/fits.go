package datafile

import (
	"io"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
)

// WriteFITS streams m to w as a single 64 bit float image, NAXIS1 being
// the column axis, with metadata appended to the primary header
func WriteFITS(w io.Writer, metadata []fitsio.Card, m Matrix) error {
	if m.Rows*m.Cols == 0 {
		return errors.New("cannot write an empty image")
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(-64, []int{m.Cols, m.Rows})
	defer im.Close()
	if err = im.Header().Append(metadata...); err != nil {
		return err
	}
	if err = im.Write(m.Data); err != nil {
		return err
	}
	return fits.Write(im)
}
