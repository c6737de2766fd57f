// Package report renders analyses and calculator results as Excel
// workbooks.
package report

import (
	"bytes"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet is one worksheet: a header row followed by data rows.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]any
}

// Workbook writes sheets to an in-memory xlsx file.
func Workbook(sheets ...Sheet) ([]byte, error) {
	f := xlsx.NewFile()
	for _, s := range sheets {
		sheet, err := f.AddSheet(s.Name)
		if err != nil {
			return nil, eris.Wrapf(err, "report: add sheet %s", s.Name)
		}
		header := sheet.AddRow()
		for _, h := range s.Header {
			header.AddCell().SetString(h)
		}
		for _, r := range s.Rows {
			row := sheet.AddRow()
			for _, v := range r {
				setCell(row.AddCell(), v)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "report: write workbook")
	}
	return buf.Bytes(), nil
}

func setCell(c *xlsx.Cell, v any) {
	switch val := v.(type) {
	case nil:
		c.SetString("")
	case string:
		c.SetString(val)
	case int:
		c.SetInt(val)
	case float64:
		c.SetFloat(val)
	case *float64:
		if val == nil {
			c.SetString("")
			return
		}
		c.SetFloat(*val)
	case bool:
		c.SetBool(val)
	default:
		c.SetValue(val)
	}
}
