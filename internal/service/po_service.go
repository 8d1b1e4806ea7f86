package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"procurement/internal/model"
	"procurement/internal/storage"

	"github.com/jung-kurt/gofpdf/v2"
	"github.com/shopspring/decimal"
)

// POService renders purchase order PDFs for fully approved requests and
// writes them to the document store
type POService struct {
	store storage.Store
}

func NewPOService(store storage.Store) *POService {
	return &POService{store: store}
}

func (s *POService) Generate(ctx context.Context, request *model.PurchaseRequest) (string, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 12, "Purchase Order")
	pdf.Ln(14)

	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 7, fmt.Sprintf("PO Reference: PO_%s", request.ID))
	pdf.Ln(7)
	pdf.Cell(0, 7, fmt.Sprintf("Request: %s", request.Title))
	pdf.Ln(7)
	if request.VendorName != "" {
		pdf.Cell(0, 7, fmt.Sprintf("Vendor: %s", request.VendorName))
		pdf.Ln(7)
	}
	if request.CreatedBy != nil {
		pdf.Cell(0, 7, fmt.Sprintf("Requested by: %s %s", request.CreatedBy.FirstName, request.CreatedBy.LastName))
		pdf.Ln(7)
	}
	pdf.Cell(0, 7, fmt.Sprintf("Approved: %s", time.Now().UTC().Format("2006-01-02")))
	pdf.Ln(12)

	items, err := decodeItems(request.ProformaItems)
	if err != nil {
		return "", fmt.Errorf("unreadable proforma items: %w", err)
	}

	if len(items) > 0 {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(90, 8, "Item", "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 8, "Unit price", "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 8, "Qty", "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 8, "Total", "1", 1, "R", false, 0, "")

		pdf.SetFont("Arial", "", 11)
		for _, item := range items {
			total := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
			pdf.CellFormat(90, 8, item.Name, "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 8, item.Price.StringFixed(2), "1", 0, "R", false, 0, "")
			pdf.CellFormat(20, 8, fmt.Sprintf("%d", item.Quantity), "1", 0, "R", false, 0, "")
			pdf.CellFormat(40, 8, total.StringFixed(2), "1", 1, "R", false, 0, "")
		}
		pdf.Ln(4)
	}

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Approved amount: %s %s", request.Amount.StringFixed(2), request.Currency))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return "", fmt.Errorf("failed to render purchase order: %w", err)
	}

	filename := fmt.Sprintf("PO_%s.pdf", request.ID)
	return s.store.Save(ctx, "purchase_orders", filename, "application/pdf", &buf)
}
