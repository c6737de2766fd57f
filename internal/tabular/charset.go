package tabular

import (
	"bytes"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// DecodeText returns b as UTF-8. Input that is not valid UTF-8 is assumed
// to be Windows-1252, which is what spreadsheet exports on Windows produce.
func DecodeText(b []byte) (string, error) {
	b = bytes.TrimPrefix(b, bom)
	if utf8.Valid(b) {
		return string(b), nil
	}
	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), b)
	if err != nil {
		return "", eris.Wrap(err, "tabular: decode windows-1252")
	}
	return string(out), nil
}

// IsXLSX reports whether b looks like a zip-packaged workbook.
func IsXLSX(b []byte) bool {
	return bytes.HasPrefix(b, []byte("PK\x03\x04"))
}
