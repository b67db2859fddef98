package codec

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

const csvSheet = "Sheet1"

// csvToXLSX は CSV の各行をそのままシートの行として書き出します。
func csvToXLSX(in, out string) error {
	src, err := os.Open(in)
	if err != nil {
		return err
	}
	defer src.Close()

	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	f := excelize.NewFile()
	defer f.Close()

	row := 1
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("csv: line %d: %w", row, err)
		}
		values := make([]interface{}, len(record))
		for i, v := range record {
			values[i] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(csvSheet, cell, &values); err != nil {
			return fmt.Errorf("xlsx: row %d: %w", row, err)
		}
		row++
	}

	if err := f.SaveAs(out); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
