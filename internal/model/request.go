package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RequestStatus enum constants
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// ThreeWayMatchStatus enum constants
const (
	MatchPending     = "PENDING"
	MatchMatched     = "MATCHED"
	MatchDiscrepancy = "DISCREPANCY"
)

// Approval level constants. Level 1 is reviewed by managers,
// level 2 by general managers; passing level 2 makes the request APPROVED.
const (
	LevelManager        = 1
	LevelGeneralManager = 2
)

// PurchaseRequest represents a staff purchase request moving through the
// sequential approval chain. Document fields hold URLs into the document store.
type PurchaseRequest struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string          `gorm:"type:varchar(255);not null" json:"title"`
	Description string          `gorm:"type:text;not null" json:"description"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency    string          `gorm:"type:varchar(10);not null;default:'USD'" json:"currency"`
	VendorName  string          `gorm:"type:varchar(255)" json:"vendor_name"`

	Status       string `gorm:"type:varchar(10);not null;default:'PENDING';index" json:"status"`
	CurrentLevel int    `gorm:"not null;default:1;index" json:"current_level"`

	CreatedByID uuid.UUID `gorm:"type:uuid;not null;index" json:"-"`
	CreatedBy   *User     `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`

	// Documents
	Proforma      string `gorm:"type:text" json:"proforma"`
	PurchaseOrder string `gorm:"type:text" json:"purchase_order"`
	Receipt       string `gorm:"type:text" json:"receipt"`
	Invoice       string `gorm:"type:text" json:"invoice"`

	// Line items extracted from the proforma and receipt, used by the
	// three-way match worker. Stored as JSON arrays of LineItem.
	ProformaItems string `gorm:"type:jsonb" json:"proforma_items,omitempty"`
	ReceiptItems  string `gorm:"type:jsonb" json:"receipt_items,omitempty"`

	// Vendor named on the uploaded receipt; the match worker compares it
	// against VendorName when present.
	ReceiptVendorName string `gorm:"type:varchar(255)" json:"receipt_vendor_name,omitempty"`

	ThreeWayMatchStatus string `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"three_way_match_status"`
	DiscrepancyDetails  string `gorm:"type:jsonb" json:"discrepancy_details,omitempty"`

	AmountTolerancePercent   decimal.Decimal `gorm:"type:decimal(5,2);not null;default:5" json:"amount_tolerance_percent"`
	QuantityTolerancePercent decimal.Decimal `gorm:"type:decimal(5,2);not null;default:10" json:"quantity_tolerance_percent"`

	Actions []ApprovalAction `gorm:"foreignKey:RequestID" json:"actions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the UUID primary key.
func (r *PurchaseRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// LineItem is a single line of a proforma or receipt document
type LineItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// RequiredRoleForLevel returns the role allowed to act at an approval level
func RequiredRoleForLevel(level int) string {
	if level == LevelGeneralManager {
		return RoleGeneralManager
	}
	return RoleManager
}
