// Package countsheet exports inventory count lines to xlsx for counting on
// paper or a tablet, and reads the filled-in sheet back.
package countsheet

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/medflow/stockledger/internal/inventory/service"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Count"

// Column headers. Import locates columns by header, so users may reorder
// or add columns.
const (
	colProduct   = "Product ID"
	colLot       = "Lot ID"
	colLotNumber = "Lot Number"
	colExpected  = "Expected"
	colCounted   = "Counted"
)

var headers = []string{colProduct, colLot, colLotNumber, colExpected, colCounted}

// RowError describes an unusable row in an imported sheet.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Export writes the count's lines as an xlsx workbook.
func Export(w io.Writer, detail *service.CountDetail) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "A", "B", 38); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "C", "E", 14); err != nil {
		return err
	}

	for i, l := range detail.Lines {
		row := i + 2
		values := []interface{}{l.ProductID, "", "", l.ExpectedQuantity, nil}
		if l.LotID != nil {
			values[1] = *l.LotID
		}
		if l.LotNumber != nil {
			values[2] = *l.LotNumber
		}
		if l.CountedQuantity != nil {
			values[4] = *l.CountedQuantity
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return err
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   detail.Count.CountNumber,
		Subject: "Inventory count " + string(detail.Count.CountType),
	}); err != nil {
		return err
	}

	return f.Write(w)
}

// Parse reads counted quantities from the first sheet of an xlsx workbook.
// Rows with an empty Counted cell are skipped. Malformed rows are reported
// as RowErrors; an unreadable workbook returns an error.
func Parse(r io.Reader) ([]service.CountEntry, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook contains no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}

	index := make(map[string]int)
	for i, h := range rows[0] {
		index[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{colProduct, colCounted} {
		if _, ok := index[required]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", required)
		}
	}

	cell := func(row []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var (
		entries []service.CountEntry
		errs    []RowError
	)
	for i, row := range rows[1:] {
		rowNum := i + 2
		productID := cell(row, colProduct)
		counted := cell(row, colCounted)
		if productID == "" && counted == "" {
			continue
		}
		if counted == "" {
			continue
		}
		if productID == "" {
			errs = append(errs, RowError{Row: rowNum, Message: "product id is empty"})
			continue
		}
		qty, err := strconv.Atoi(counted)
		if err != nil {
			errs = append(errs, RowError{Row: rowNum, Message: fmt.Sprintf("counted quantity %q is not a whole number", counted)})
			continue
		}
		if qty < 0 {
			errs = append(errs, RowError{Row: rowNum, Message: "counted quantity must not be negative"})
			continue
		}

		entry := service.CountEntry{ProductID: productID, Counted: qty}
		if lotID := cell(row, colLot); lotID != "" {
			entry.LotID = &lotID
		}
		entries = append(entries, entry)
	}
	return entries, errs, nil
}
