package statement

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/metrics"
)

const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
)

// Filename is the download name, e.g. statement_Amina_Otieno_20260310.pdf.
func (s Statement) Filename(format string) string {
	name := strings.Join(strings.Fields(s.Tenancy.TenantName), "_")
	return fmt.Sprintf("statement_%s_%s.%s", name, s.GeneratedAt.Format("20060102"), format)
}

// RenderPDF renders the statement as an A4 PDF.
func RenderPDF(s Statement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, "Tenant Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Tenant: %s", s.Tenancy.TenantName))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Unit: %s", s.Tenancy.UnitLabel))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Move-in: %s", s.Tenancy.MoveInDate.Format("2006-01-02")))
	pdf.Ln(5)
	if s.Tenancy.MoveOutDate != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Move-out: %s", s.Tenancy.MoveOutDate.Format("2006-01-02")))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", s.GeneratedAt.Format("2006-01-02 15:04")))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(25, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(75, 6, "Description", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Charge", "1", 0, "C", false, 0, "")
	pdf.CellFormat(28, 6, "Payment", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Balance", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, line := range s.Lines {
		charge, payment := splitAmount(line.Entry.Kind == ledger.KindCharge, line.Entry.Amount.Value.StringFixed(2))
		pdf.CellFormat(25, 6, line.Entry.TransactionDate.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(75, 6, truncate(line.Entry.Description, 45), "1", 0, "L", false, 0, "")
		pdf.CellFormat(28, 6, charge, "1", 0, "R", false, 0, "")
		pdf.CellFormat(28, 6, payment, "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, line.Balance.Value.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Total Charges: %s", s.TotalCharges))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Payments: %s", s.TotalPayments))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Current Balance: %s", s.CurrentBalance))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("statement.RenderPDF: %w", err)
	}
	metrics.IncStatementExport(FormatPDF)
	return buf.Bytes(), nil
}

// RenderXLSX renders the statement as a workbook with a summary sheet and an
// entries sheet.
func RenderXLSX(s Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	entriesSheet := "entries"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("statement.RenderXLSX: %w", err)
	}
	if _, err := f.NewSheet(entriesSheet); err != nil {
		return nil, fmt.Errorf("statement.RenderXLSX: %w", err)
	}

	_ = f.SetCellValue(summarySheet, "A1", "Tenant Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Tenant")
	_ = f.SetCellValue(summarySheet, "B3", s.Tenancy.TenantName)
	_ = f.SetCellValue(summarySheet, "A4", "Unit")
	_ = f.SetCellValue(summarySheet, "B4", s.Tenancy.UnitLabel)
	_ = f.SetCellValue(summarySheet, "A5", "Total Charges")
	_ = f.SetCellValue(summarySheet, "B5", s.TotalCharges.Value.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A6", "Total Payments")
	_ = f.SetCellValue(summarySheet, "B6", s.TotalPayments.Value.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A7", "Current Balance")
	_ = f.SetCellValue(summarySheet, "B7", s.CurrentBalance.Value.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A8", "Currency")
	_ = f.SetCellValue(summarySheet, "B8", string(s.CurrentBalance.Currency))

	for i, h := range []string{"Date", "Type", "Description", "Amount", "Method", "Reference", "Balance"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(entriesSheet, cell, h)
	}
	for i, line := range s.Lines {
		row := i + 2
		e := line.Entry
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("A%d", row), e.TransactionDate.Format("2006-01-02"))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("B%d", row), string(e.Kind))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("C%d", row), e.Description)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("D%d", row), e.Amount.Value.InexactFloat64())
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("E%d", row), string(e.PaymentMethod))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("F%d", row), e.ReferenceNumber)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("G%d", row), line.Balance.Value.InexactFloat64())
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("statement.RenderXLSX: %w", err)
	}
	metrics.IncStatementExport(FormatXLSX)
	return buf.Bytes(), nil
}

func splitAmount(isCharge bool, amount string) (charge, payment string) {
	if isCharge {
		return amount, ""
	}
	return "", amount
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
