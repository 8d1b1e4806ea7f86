package repository

import (
	"context"
	"strings"

	"procurement/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListFilter carries the query parameters of the request listing endpoint.
// Role and UserID drive the server-side scoping; the rest are user filters.
type ListFilter struct {
	Role   string
	UserID uuid.UUID

	Status string // PENDING/APPROVED/REJECTED, case-insensitive; "" or "all" = no filter
	Search string // matches title, description, vendor_name

	// ApprovedByMe filters approver listings by whether the caller has
	// already acted at the request's current level: "1" acted, "0" not yet,
	// "" no filter.
	ApprovedByMe string

	Offset   int
	PageSize int
}

// RequestRepository defines data access for purchase requests
type RequestRepository interface {
	Create(ctx context.Context, req *model.PurchaseRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error)
	List(ctx context.Context, filter ListFilter) ([]model.PurchaseRequest, int64, error)
	Update(ctx context.Context, req *model.PurchaseRequest) error
	CountByStatus(ctx context.Context, filter ListFilter) (map[string]int64, error)
}

type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository returns a new instance of RequestRepository
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.PurchaseRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *requestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error) {
	var req model.PurchaseRequest
	err := r.db.WithContext(ctx).
		Preload("CreatedBy").
		Preload("Actions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Actions.Actor").
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// scoped applies the role scoping and user filters shared by List and CountByStatus
func (r *requestRepository) scoped(ctx context.Context, filter ListFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&model.PurchaseRequest{})

	switch filter.Role {
	case model.RoleStaff:
		query = query.Where("created_by_id = ?", filter.UserID)
	case model.RoleManager:
		query = query.Where("current_level = ?", model.LevelManager)
	case model.RoleGeneralManager:
		query = query.Where("current_level = ?", model.LevelGeneralManager)
	case model.RoleFinance:
		query = query.Where("status = ?", model.StatusApproved)
	}

	if status := strings.ToUpper(strings.TrimSpace(filter.Status)); status != "" && status != "ALL" {
		query = query.Where("status = ?", status)
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(title) LIKE ? OR LOWER(description) LIKE ? OR LOWER(vendor_name) LIKE ?",
			pattern, pattern, pattern,
		)
	}

	if filter.ApprovedByMe != "" && model.IsApprover(filter.Role) {
		sub := "EXISTS (SELECT 1 FROM approval_actions a WHERE a.request_id = purchase_requests.id AND a.level = purchase_requests.current_level AND a.actor_id = ?)"
		if filter.ApprovedByMe == "1" {
			query = query.Where(sub, filter.UserID)
		} else if filter.ApprovedByMe == "0" {
			query = query.Where("NOT "+sub, filter.UserID)
		}
	}

	return query
}

func (r *requestRepository) List(ctx context.Context, filter ListFilter) ([]model.PurchaseRequest, int64, error) {
	var total int64
	if err := r.scoped(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []model.PurchaseRequest
	err := r.scoped(ctx, filter).
		Preload("CreatedBy").
		Order("created_at DESC").
		Offset(filter.Offset).
		Limit(filter.PageSize).
		Find(&requests).Error
	if err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *requestRepository) Update(ctx context.Context, req *model.PurchaseRequest) error {
	return r.db.WithContext(ctx).Save(req).Error
}

// CountByStatus returns per-status totals for the caller's scope, ignoring
// the status filter itself (the dashboard summary counts all buckets).
func (r *requestRepository) CountByStatus(ctx context.Context, filter ListFilter) (map[string]int64, error) {
	filter.Status = ""

	type bucket struct {
		Status string
		Total  int64
	}
	var rows []bucket
	err := r.scoped(ctx, filter).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[string]int64{
		model.StatusPending:  0,
		model.StatusApproved: 0,
		model.StatusRejected: 0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}
