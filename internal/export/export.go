// Package export renders archived submissions as downloadable documents.
package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/extractly/invoice-desk/internal/archive"
)

const sheetName = "Invoices"

// XLSX returns a workbook with one row per submitted invoice.
func XLSX(records []*archive.Record) ([]byte, error) {
	f := excelize.NewFile()
	if index, _ := f.GetSheetIndex(sheetName); index == -1 {
		if _, err := f.NewSheet(sheetName); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheetName)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Invoice Number",
		"Vendor",
		"Invoice Date",
		"Total",
		"Line Items",
		"Submitted At",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	row := 2
	for _, r := range records {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}

		write(1, r.InvoiceNumber)
		write(2, r.Vendor)
		write(3, r.InvoiceDate)
		write(4, r.Total)
		write(5, len(r.Items))
		write(6, r.SubmittedAt.Format("2006-01-02 15:04:05"))

		row++
	}

	_ = f.SetColWidth(sheetName, "A", "A", 18)
	_ = f.SetColWidth(sheetName, "B", "B", 28)
	_ = f.SetColWidth(sheetName, "C", "C", 14)
	_ = f.SetColWidth(sheetName, "D", "D", 12)
	_ = f.SetColWidth(sheetName, "F", "F", 20)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// PDF renders a single submitted invoice on one A4 page.
func PDF(record *archive.Record) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Invoice "+record.InvoiceNumber)
	pdf.Ln(12)

	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 7, "Vendor: "+record.Vendor)
	pdf.Ln(7)
	pdf.Cell(0, 7, "Date: "+record.InvoiceDate)
	pdf.Ln(7)
	pdf.Cell(0, 7, "Submitted: "+record.SubmittedAt.Format("2006-01-02"))
	pdf.Ln(12)

	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(90, 8, "Description", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 8, "Quantity", "1", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, "Price", "1", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, "Total", "1", 1, "R", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	for _, item := range record.Items {
		pdf.CellFormat(90, 8, item.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 8, item.Quantity, "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 8, item.Price, "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 8, item.Total, "1", 1, "R", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(150, 8, "Total", "", 0, "R", false, 0, "")
	pdf.CellFormat(30, 8, record.Total, "1", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf write: %w", err)
	}
	return buf.Bytes(), nil
}
