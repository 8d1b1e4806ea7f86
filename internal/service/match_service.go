package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"procurement/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MatchService performs three-way matching between the purchase order data
// (proforma line items captured at creation) and the receipt uploaded by
// staff. Jobs run on a single background worker; results land on the request
// row for clients to poll.
type MatchService struct {
	db     *gorm.DB
	events EventPublisher

	jobs chan uuid.UUID
	// Artificial processing latency so the verification states are
	// observable by polling clients; zero in tests.
	delay time.Duration
}

// ItemIssue describes one problem found during matching
type ItemIssue struct {
	Type             string `json:"type"` // vendor, price, quantity, missing_item, extra_item
	Item             string `json:"item"`
	Expected         string `json:"expected,omitempty"`
	Received         string `json:"received,omitempty"`
	TolerancePercent string `json:"tolerance_pct,omitempty"`
	Message          string `json:"message,omitempty"`
}

// MatchReport is persisted as the request's discrepancy_details
type MatchReport struct {
	VendorMatch bool        `json:"vendor_match"`
	Issues      []ItemIssue `json:"issues,omitempty"`
	Error       string      `json:"error,omitempty"`
}

func NewMatchService(db *gorm.DB, events EventPublisher, delay time.Duration) *MatchService {
	return &MatchService{
		db:     db,
		events: events,
		jobs:   make(chan uuid.UUID, 64),
		delay:  delay,
	}
}

// Enqueue schedules a match job; drops with a log line when the queue is full
// rather than blocking the submit path
func (s *MatchService) Enqueue(requestID uuid.UUID) {
	select {
	case s.jobs <- requestID:
	default:
		log.Printf("match queue full, dropping job for request %s", requestID)
	}
}

// Run consumes match jobs until ctx is cancelled. Call in a goroutine.
func (s *MatchService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-s.jobs:
			if s.delay > 0 {
				time.Sleep(s.delay)
			}
			if err := s.Process(ctx, id); err != nil {
				log.Printf("three-way match failed for request %s: %v", id, err)
			}
		}
	}
}

// Process runs the match for a single request and stores the outcome
func (s *MatchService) Process(ctx context.Context, requestID uuid.UUID) error {
	var request model.PurchaseRequest
	if err := s.db.WithContext(ctx).First(&request, "id = ?", requestID).Error; err != nil {
		return fmt.Errorf("request not found: %w", err)
	}

	if request.Receipt == "" {
		return fmt.Errorf("no receipt uploaded for request %s", requestID)
	}

	report, status := s.evaluate(&request)

	details, _ := json.Marshal(report)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"three_way_match_status": status,
			"discrepancy_details":    string(details),
		}
		if err := tx.Model(&model.PurchaseRequest{}).Where("id = ?", requestID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to store match result: %w", err)
		}

		audit, _ := json.Marshal(map[string]interface{}{"result": status, "issues": len(report.Issues)})
		entry := model.AuditLog{
			Action:     model.ActionMatchResolved,
			EntityID:   requestID.String(),
			EntityName: request.Title,
			Details:    string(audit),
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		return err
	}

	if s.events != nil {
		s.events.Publish("request.match_resolved", map[string]interface{}{
			"request_id":             requestID,
			"three_way_match_status": status,
		})
	}
	return nil
}

// evaluate compares proforma and receipt line items. Vendor names are
// compared after normalization; items match by normalized name, then price
// and quantity are checked against the request's tolerance percentages.
func (s *MatchService) evaluate(request *model.PurchaseRequest) (MatchReport, string) {
	var report MatchReport

	poItems, err := decodeItems(request.ProformaItems)
	if err != nil {
		report.Error = "proforma line items are unreadable: " + err.Error()
		return report, model.MatchDiscrepancy
	}
	receiptItems, err := decodeItems(request.ReceiptItems)
	if err != nil {
		report.Error = "receipt line items are unreadable: " + err.Error()
		return report, model.MatchDiscrepancy
	}

	// Vendor is only checked when the receipt names one.
	report.VendorMatch = true
	if rcptVendor := normalizeName(request.ReceiptVendorName); rcptVendor != "" && rcptVendor != normalizeName(request.VendorName) {
		report.VendorMatch = false
		report.Issues = append(report.Issues, ItemIssue{
			Type:     "vendor",
			Item:     request.ReceiptVendorName,
			Expected: request.VendorName,
			Received: request.ReceiptVendorName,
			Message:  "Receipt vendor does not match the purchase request vendor",
		})
	}

	// Without line items on either side there is nothing further to
	// reconcile beyond the documents themselves.
	if len(poItems) == 0 && len(receiptItems) == 0 {
		if len(report.Issues) > 0 {
			return report, model.MatchDiscrepancy
		}
		return report, model.MatchMatched
	}

	matched := make([]bool, len(receiptItems))

	for _, po := range poItems {
		name := normalizeName(po.Name)
		if name == "" {
			continue
		}

		found := false
		for i, rcpt := range receiptItems {
			if matched[i] || normalizeName(rcpt.Name) != name {
				continue
			}
			found = true
			matched[i] = true

			if issue, ok := toleranceIssue("price", po.Name, po.Price, rcpt.Price, request.AmountTolerancePercent); !ok {
				report.Issues = append(report.Issues, issue)
			}
			poQty := decimal.NewFromInt(int64(po.Quantity))
			rcptQty := decimal.NewFromInt(int64(rcpt.Quantity))
			if issue, ok := toleranceIssue("quantity", po.Name, poQty, rcptQty, request.QuantityTolerancePercent); !ok {
				report.Issues = append(report.Issues, issue)
			}
			break
		}

		if !found {
			report.Issues = append(report.Issues, ItemIssue{
				Type:     "missing_item",
				Item:     po.Name,
				Expected: fmt.Sprintf("%d units @ %s", po.Quantity, po.Price.StringFixed(2)),
				Message:  "Item not found in receipt",
			})
		}
	}

	for i, rcpt := range receiptItems {
		if !matched[i] && normalizeName(rcpt.Name) != "" {
			report.Issues = append(report.Issues, ItemIssue{
				Type:    "extra_item",
				Item:    rcpt.Name,
				Message: "Item in receipt not found in purchase order",
			})
		}
	}

	if len(report.Issues) > 0 {
		return report, model.MatchDiscrepancy
	}
	return report, model.MatchMatched
}

func decodeItems(raw string) ([]model.LineItem, error) {
	if raw == "" {
		return nil, nil
	}
	var items []model.LineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// toleranceIssue reports ok=true when received is within tolerance percent of
// expected. Zero expected values are not checked.
func toleranceIssue(kind, item string, expected, received, tolerance decimal.Decimal) (ItemIssue, bool) {
	if expected.IsZero() {
		return ItemIssue{}, true
	}

	diffPct := expected.Sub(received).Abs().Div(expected).Mul(decimal.NewFromInt(100))
	if diffPct.LessThanOrEqual(tolerance) {
		return ItemIssue{}, true
	}

	return ItemIssue{
		Type:             kind,
		Item:             item,
		Expected:         expected.String(),
		Received:         received.String(),
		TolerancePercent: tolerance.String(),
	}, false
}
