package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"procurement/internal/model"
	"procurement/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sentinel errors handlers translate into HTTP status codes
var (
	ErrNotFound  = errors.New("request not found")
	ErrForbidden = errors.New("forbidden")
	ErrConflict  = errors.New("conflict")
)

// Matcher enqueues a three-way match job for a request
type Matcher interface {
	Enqueue(requestID uuid.UUID)
}

// POGenerator renders a purchase order document and returns its stored URL
type POGenerator interface {
	Generate(ctx context.Context, req *model.PurchaseRequest) (string, error)
}

// EventPublisher pushes lifecycle events to connected dashboards
type EventPublisher interface {
	Publish(eventType string, payload interface{})
}

// --- DTOs ---

type CreateRequestDTO struct {
	Title       string
	Description string
	Amount      string
	VendorName  string
	ProformaURL string
	ItemsJSON   string // optional proforma line items
}

type UpdateRequestDTO struct {
	Title       string
	Description string
	Amount      string
	VendorName  string
	ProformaURL string
	ItemsJSON   string
}

type ListRequestsQuery struct {
	Status       string
	Search       string
	ApprovedByMe string
	Offset       int
	PageSize     int
}

// UserSummary is the embedded creator/actor view on request payloads
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
}

type ActionResponse struct {
	ID        uuid.UUID    `json:"id"`
	Level     int          `json:"level"`
	Action    string       `json:"action"`
	Comment   string       `json:"comment"`
	Actor     *UserSummary `json:"actor,omitempty"`
	CreatedAt string       `json:"created_at"`
}

type RequestResponse struct {
	ID                  uuid.UUID        `json:"id"`
	Title               string           `json:"title"`
	Description         string           `json:"description"`
	Amount              string           `json:"amount"`
	Currency            string           `json:"currency"`
	VendorName          string           `json:"vendor_name"`
	Status              string           `json:"status"`
	CurrentLevel        int              `json:"current_level"`
	ThreeWayMatchStatus string           `json:"three_way_match_status"`
	CreatedBy           *UserSummary     `json:"created_by,omitempty"`
	Proforma            string           `json:"proforma,omitempty"`
	PurchaseOrder       string           `json:"purchase_order,omitempty"`
	Receipt             string           `json:"receipt,omitempty"`
	Invoice             string           `json:"invoice,omitempty"`
	DiscrepancyDetails  json.RawMessage  `json:"discrepancy_details,omitempty"`
	Actions             []ActionResponse `json:"actions,omitempty"`
	CreatedAt           string           `json:"created_at"`
	UpdatedAt           string           `json:"updated_at"`
}

// --- Interface ---

type RequestService interface {
	Create(ctx context.Context, userID string, dto CreateRequestDTO) (*RequestResponse, error)
	List(ctx context.Context, userID, role string, q ListRequestsQuery) ([]RequestResponse, int64, error)
	Get(ctx context.Context, id string) (*RequestResponse, error)
	Update(ctx context.Context, id, userID string, dto UpdateRequestDTO) (*RequestResponse, error)
	Approve(ctx context.Context, id, userID, role, comment string) (*RequestResponse, error)
	Reject(ctx context.Context, id, userID, role, comment string) (*RequestResponse, error)
	SubmitReceipt(ctx context.Context, id, userID, receiptURL, itemsJSON, vendorName string) (*RequestResponse, error)
	SubmitInvoice(ctx context.Context, id, invoiceURL string) (*RequestResponse, error)
	Summary(ctx context.Context, userID, role string) (map[string]int64, error)
}

// MatchTolerances holds the percent thresholds stamped onto each new
// request; the match worker reads them back from the request row.
type MatchTolerances struct {
	AmountPercent   float64
	QuantityPercent float64
}

// DefaultTolerances mirrors the config defaults.
func DefaultTolerances() MatchTolerances {
	return MatchTolerances{AmountPercent: 5, QuantityPercent: 10}
}

type requestService struct {
	db         *gorm.DB
	repo       repository.RequestRepository
	matcher    Matcher
	po         POGenerator
	events     EventPublisher
	tolerances MatchTolerances
}

// NewRequestService wires the request workflow. matcher, po and events may be
// nil in tests; the service degrades to synchronous-only behavior.
func NewRequestService(db *gorm.DB, repo repository.RequestRepository, matcher Matcher, po POGenerator, events EventPublisher, tolerances MatchTolerances) RequestService {
	if tolerances.AmountPercent <= 0 {
		tolerances.AmountPercent = DefaultTolerances().AmountPercent
	}
	if tolerances.QuantityPercent <= 0 {
		tolerances.QuantityPercent = DefaultTolerances().QuantityPercent
	}
	return &requestService{db: db, repo: repo, matcher: matcher, po: po, events: events, tolerances: tolerances}
}

// --- Implementation ---

func toUserSummary(u *model.User) *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

func toRequestResponse(r *model.PurchaseRequest) *RequestResponse {
	res := &RequestResponse{
		ID:                  r.ID,
		Title:               r.Title,
		Description:         r.Description,
		Amount:              r.Amount.StringFixed(2),
		Currency:            r.Currency,
		VendorName:          r.VendorName,
		Status:              r.Status,
		CurrentLevel:        r.CurrentLevel,
		ThreeWayMatchStatus: r.ThreeWayMatchStatus,
		CreatedBy:           toUserSummary(r.CreatedBy),
		Proforma:            r.Proforma,
		PurchaseOrder:       r.PurchaseOrder,
		Receipt:             r.Receipt,
		Invoice:             r.Invoice,
		CreatedAt:           r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           r.UpdatedAt.Format(time.RFC3339),
	}
	if r.DiscrepancyDetails != "" {
		res.DiscrepancyDetails = json.RawMessage(r.DiscrepancyDetails)
	}
	for i := range r.Actions {
		a := r.Actions[i]
		res.Actions = append(res.Actions, ActionResponse{
			ID:        a.ID,
			Level:     a.Level,
			Action:    a.Action,
			Comment:   a.Comment,
			Actor:     toUserSummary(a.Actor),
			CreatedAt: a.CreatedAt.Format(time.RFC3339),
		})
	}
	return res
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, &ValidationError{Fields: map[string][]string{
			"amount": {"Amount must be a valid decimal number"},
		}}
	}
	if amount.IsNegative() || amount.IsZero() {
		return decimal.Decimal{}, &ValidationError{Fields: map[string][]string{
			"amount": {"Amount must be greater than zero"},
		}}
	}
	return amount, nil
}

// validateItemsJSON rejects payloads that do not decode as line items
func validateItemsJSON(raw string) error {
	if raw == "" {
		return nil
	}
	var items []model.LineItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return &ValidationError{Fields: map[string][]string{
			"items": {"Items must be a JSON array of {name, price, quantity}"},
		}}
	}
	return nil
}

func (s *requestService) Create(ctx context.Context, userID string, dto CreateRequestDTO) (*RequestResponse, error) {
	creatorID, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}

	fields := map[string][]string{}
	if dto.Title == "" {
		fields["title"] = []string{"Title is required"}
	}
	if dto.Description == "" {
		fields["description"] = []string{"Description is required"}
	}
	if dto.ProformaURL == "" {
		fields["proforma"] = []string{"A proforma document is required"}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	amount, err := parseAmount(dto.Amount)
	if err != nil {
		return nil, err
	}
	if err := validateItemsJSON(dto.ItemsJSON); err != nil {
		return nil, err
	}

	request := model.PurchaseRequest{
		Title:                    dto.Title,
		Description:              dto.Description,
		Amount:                   amount,
		Currency:                 "USD",
		VendorName:               dto.VendorName,
		Status:                   model.StatusPending,
		CurrentLevel:             model.LevelManager,
		CreatedByID:              creatorID,
		Proforma:                 dto.ProformaURL,
		ProformaItems:            dto.ItemsJSON,
		ThreeWayMatchStatus:      model.MatchPending,
		AmountTolerancePercent:   decimal.NewFromFloat(s.tolerances.AmountPercent),
		QuantityTolerancePercent: decimal.NewFromFloat(s.tolerances.QuantityPercent),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if createErr := tx.Create(&request).Error; createErr != nil {
			return fmt.Errorf("failed to create purchase request: %w", createErr)
		}
		return s.audit(tx, &creatorID, model.ActionCreateRequest, &request, map[string]interface{}{
			"amount": amount.StringFixed(2),
		})
	})
	if err != nil {
		return nil, err
	}

	return s.reload(ctx, request.ID)
}

func (s *requestService) List(ctx context.Context, userID, role string, q ListRequestsQuery) ([]RequestResponse, int64, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid user id: %w", err)
	}

	requests, total, err := s.repo.List(ctx, repository.ListFilter{
		Role:         role,
		UserID:       uid,
		Status:       q.Status,
		Search:       q.Search,
		ApprovedByMe: q.ApprovedByMe,
		Offset:       q.Offset,
		PageSize:     q.PageSize,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch purchase requests: %w", err)
	}

	result := make([]RequestResponse, 0, len(requests))
	for i := range requests {
		result = append(result, *toRequestResponse(&requests[i]))
	}
	return result, total, nil
}

func (s *requestService) Get(ctx context.Context, id string) (*RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, ErrNotFound
	}
	return toRequestResponse(request), nil
}

func (s *requestService) Update(ctx context.Context, id, userID string, dto UpdateRequestDTO) (*RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, ErrNotFound
	}

	if request.CreatedByID.String() != userID || request.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: you can only update your own pending requests", ErrForbidden)
	}

	if dto.Title != "" {
		request.Title = dto.Title
	}
	if dto.Description != "" {
		request.Description = dto.Description
	}
	if dto.VendorName != "" {
		request.VendorName = dto.VendorName
	}
	if dto.Amount != "" {
		amount, parseErr := parseAmount(dto.Amount)
		if parseErr != nil {
			return nil, parseErr
		}
		request.Amount = amount
	}
	if dto.ProformaURL != "" {
		request.Proforma = dto.ProformaURL
	}
	if dto.ItemsJSON != "" {
		if err := validateItemsJSON(dto.ItemsJSON); err != nil {
			return nil, err
		}
		request.ProformaItems = dto.ItemsJSON
	}

	actorID, _ := uuid.Parse(userID)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if saveErr := tx.Save(request).Error; saveErr != nil {
			return fmt.Errorf("failed to update purchase request: %w", saveErr)
		}
		return s.audit(tx, &actorID, model.ActionUpdateRequest, request, nil)
	})
	if err != nil {
		return nil, err
	}

	return s.reload(ctx, request.ID)
}

func (s *requestService) Approve(ctx context.Context, id, userID, role, comment string) (*RequestResponse, error) {
	return s.decide(ctx, id, userID, role, comment, model.ActionApproved)
}

func (s *requestService) Reject(ctx context.Context, id, userID, role, comment string) (*RequestResponse, error) {
	return s.decide(ctx, id, userID, role, comment, model.ActionRejected)
}

// decide applies an approve/reject action at the request's current level
func (s *requestService) decide(ctx context.Context, id, userID, role, comment, action string) (*RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}
	actorID, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}

	var request model.PurchaseRequest
	var finalApproval bool

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Row lock so two concurrent approvers cannot both pass the
		// status check. Sqlite has no FOR UPDATE; it serializes writes.
		q := tx
		if tx.Dialector.Name() == "postgres" {
			q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if findErr := q.First(&request, "id = ?", requestID).Error; findErr != nil {
			return ErrNotFound
		}

		if request.Status != model.StatusPending {
			return fmt.Errorf("%w: request is already processed", ErrConflict)
		}

		required := model.RequiredRoleForLevel(request.CurrentLevel)
		if role != required {
			return fmt.Errorf("%w: only the %s can act at level %d", ErrForbidden, required, request.CurrentLevel)
		}

		var existing int64
		tx.Model(&model.ApprovalAction{}).
			Where("request_id = ? AND level = ? AND actor_id = ?", request.ID, request.CurrentLevel, actorID).
			Count(&existing)
		if existing > 0 {
			return fmt.Errorf("%w: you have already acted on this request at this level", ErrConflict)
		}

		decision := model.ApprovalAction{
			RequestID: request.ID,
			Level:     request.CurrentLevel,
			ActorID:   actorID,
			Action:    action,
			Comment:   comment,
		}
		if createErr := tx.Create(&decision).Error; createErr != nil {
			return fmt.Errorf("failed to record approval action: %w", createErr)
		}

		auditAction := model.ActionApproveRequest
		switch {
		case action == model.ActionRejected:
			request.Status = model.StatusRejected
			auditAction = model.ActionRejectRequest
		case request.CurrentLevel >= model.LevelGeneralManager:
			request.Status = model.StatusApproved
			finalApproval = true
		default:
			request.CurrentLevel = model.LevelGeneralManager
		}

		if saveErr := tx.Save(&request).Error; saveErr != nil {
			return fmt.Errorf("failed to update purchase request: %w", saveErr)
		}

		return s.audit(tx, &actorID, auditAction, &request, map[string]interface{}{
			"level":   decision.Level,
			"comment": comment,
		})
	})
	if err != nil {
		return nil, err
	}

	if finalApproval {
		s.generatePurchaseOrder(request.ID)
	}
	switch {
	case request.Status == model.StatusRejected:
		s.publish("request.rejected", &request)
	case request.Status == model.StatusApproved:
		s.publish("request.approved", &request)
	default:
		s.publish("request.level_advanced", &request)
	}

	return s.reload(ctx, request.ID)
}

func (s *requestService) SubmitReceipt(ctx context.Context, id, userID, receiptURL, itemsJSON, vendorName string) (*RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, ErrNotFound
	}

	if request.CreatedByID.String() != userID {
		return nil, fmt.Errorf("%w: you can only submit receipts for your own requests", ErrForbidden)
	}
	if request.Status != model.StatusApproved {
		return nil, fmt.Errorf("%w: receipt can only be submitted for approved requests", ErrConflict)
	}
	if err := validateItemsJSON(itemsJSON); err != nil {
		return nil, err
	}

	request.Receipt = receiptURL
	if itemsJSON != "" {
		request.ReceiptItems = itemsJSON
	}
	request.ReceiptVendorName = vendorName
	request.ThreeWayMatchStatus = model.MatchPending
	request.DiscrepancyDetails = ""

	actorID, _ := uuid.Parse(userID)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if saveErr := tx.Save(request).Error; saveErr != nil {
			return fmt.Errorf("failed to store receipt: %w", saveErr)
		}
		return s.audit(tx, &actorID, model.ActionSubmitReceipt, request, nil)
	})
	if err != nil {
		return nil, err
	}

	if s.matcher != nil {
		s.matcher.Enqueue(request.ID)
	}

	return s.reload(ctx, request.ID)
}

func (s *requestService) SubmitInvoice(ctx context.Context, id, invoiceURL string) (*RequestResponse, error) {
	requestID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrNotFound
	}

	request, err := s.repo.GetByID(ctx, requestID)
	if err != nil {
		return nil, ErrNotFound
	}

	if request.Status != model.StatusApproved {
		return nil, fmt.Errorf("%w: invoices can only be attached to approved requests", ErrConflict)
	}
	if request.ThreeWayMatchStatus != model.MatchMatched {
		return nil, fmt.Errorf("%w: invoices can only be attached once the three-way match has passed", ErrConflict)
	}

	request.Invoice = invoiceURL
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if saveErr := tx.Save(request).Error; saveErr != nil {
			return fmt.Errorf("failed to store invoice: %w", saveErr)
		}
		return s.audit(tx, nil, model.ActionSubmitInvoice, request, nil)
	})
	if err != nil {
		return nil, err
	}

	return s.reload(ctx, request.ID)
}

func (s *requestService) Summary(ctx context.Context, userID, role string) (map[string]int64, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	return s.repo.CountByStatus(ctx, repository.ListFilter{Role: role, UserID: uid})
}

// --- helpers ---

func (s *requestService) reload(ctx context.Context, id uuid.UUID) (*RequestResponse, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload purchase request: %w", err)
	}
	return toRequestResponse(request), nil
}

func (s *requestService) audit(tx *gorm.DB, userID *uuid.UUID, action string, request *model.PurchaseRequest, extra map[string]interface{}) error {
	payload := map[string]interface{}{"status": request.Status}
	for k, v := range extra {
		payload[k] = v
	}
	details, _ := json.Marshal(payload)

	entry := model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   request.ID.String(),
		EntityName: request.Title,
		Details:    string(details),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (s *requestService) publish(eventType string, request *model.PurchaseRequest) {
	if s.events == nil {
		return
	}
	s.events.Publish(eventType, map[string]interface{}{
		"request_id":             request.ID,
		"title":                  request.Title,
		"status":                 request.Status,
		"current_level":          request.CurrentLevel,
		"three_way_match_status": request.ThreeWayMatchStatus,
	})
}

// generatePurchaseOrder renders the PO off the request path. Approval stands
// even when rendering fails; the PO field is simply left empty.
func (s *requestService) generatePurchaseOrder(requestID uuid.UUID) {
	if s.po == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		request, err := s.repo.GetByID(ctx, requestID)
		if err != nil {
			log.Printf("PO generation: reload failed for %s: %v", requestID, err)
			return
		}

		url, err := s.po.Generate(ctx, request)
		if err != nil {
			log.Printf("PO generation failed for %s: %v", requestID, err)
			return
		}

		request.PurchaseOrder = url
		if err := s.repo.Update(ctx, request); err != nil {
			log.Printf("PO generation: save failed for %s: %v", requestID, err)
		}
	}()
}
