package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Receipt holds the fields rendered onto a payment receipt document.
type Receipt struct {
	PaymentID     string
	TransactionID string
	StudentName   string
	ClassName     string
	Amount        int64
	RefundedTotal int64
	IssuedAt      time.Time
}

// ReceiptRenderer renders payment receipts as PDF documents.
type ReceiptRenderer struct{}

// NewReceiptRenderer constructs a receipt renderer.
func NewReceiptRenderer() *ReceiptRenderer {
	return &ReceiptRenderer{}
}

// Render produces PDF bytes for the receipt.
func (r *ReceiptRenderer) Render(receipt Receipt) ([]byte, error) {
	if receipt.PaymentID == "" {
		return nil, fmt.Errorf("receipt requires a payment id")
	}
	if receipt.IssuedAt.IsZero() {
		receipt.IssuedAt = time.Now().UTC()
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "PAYMENT RECEIPT", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	rows := [][2]string{
		{"Payment ID", receipt.PaymentID},
		{"Transaction", receipt.TransactionID},
		{"Student", receipt.StudentName},
		{"Class", receipt.ClassName},
		{"Amount", formatMinorUnits(receipt.Amount)},
	}
	if receipt.RefundedTotal > 0 {
		rows = append(rows, [2]string{"Refunded", formatMinorUnits(receipt.RefundedTotal)})
	}
	rows = append(rows, [2]string{"Issued at", receipt.IssuedAt.Format(time.RFC1123)})

	pdf.SetFont("Arial", "", 11)
	for _, row := range rows {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(50, 8, row[0], "1", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(130, 8, row[1], "1", 1, "", false, 0, "")
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func formatMinorUnits(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}
