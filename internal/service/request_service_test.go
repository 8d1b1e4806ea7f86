package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"procurement/internal/database"
	"procurement/internal/model"
	"procurement/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, role string) *model.User {
	t.Helper()
	u := &model.User{
		Email:      fmt.Sprintf("%s-%s@example.com", role, uuid.NewString()[:8]),
		Phone:      uuid.NewString()[:12],
		FirstName:  "Test",
		LastName:   role,
		Password:   "hashed",
		Role:       role,
		IsVerified: true,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

type recordingMatcher struct {
	enqueued []uuid.UUID
}

func (m *recordingMatcher) Enqueue(id uuid.UUID) {
	m.enqueued = append(m.enqueued, id)
}

func newTestRequestService(db *gorm.DB, matcher Matcher) RequestService {
	return NewRequestService(db, repository.NewRequestRepository(db), matcher, nil, nil, DefaultTolerances())
}

func seedRequest(t *testing.T, svc RequestService, owner *model.User) *RequestResponse {
	t.Helper()
	created, err := svc.Create(context.Background(), owner.ID.String(), CreateRequestDTO{
		Title:       "Office laptops",
		Description: "Replacement laptops for the support desk",
		Amount:      "1500.50",
		VendorName:  "Acme Supplies",
		ProformaURL: "http://localhost/media/proforma/laptops.pdf",
		ItemsJSON:   `[{"name":"Laptop","price":750.25,"quantity":2}]`,
	})
	require.NoError(t, err)
	return created
}

func TestCreateRequest(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	svc := newTestRequestService(db, nil)

	created := seedRequest(t, svc, staff)

	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, model.LevelManager, created.CurrentLevel)
	assert.Equal(t, "1500.50", created.Amount)
	assert.Equal(t, model.MatchPending, created.ThreeWayMatchStatus)
	require.NotNil(t, created.CreatedBy)
	assert.Equal(t, staff.ID, created.CreatedBy.ID)

	var auditCount int64
	db.Model(&model.AuditLog{}).Where("action = ?", model.ActionCreateRequest).Count(&auditCount)
	assert.EqualValues(t, 1, auditCount)
}

func TestCreateRequestStampsConfiguredTolerances(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	svc := NewRequestService(db, repository.NewRequestRepository(db), nil, nil, nil,
		MatchTolerances{AmountPercent: 2.5, QuantityPercent: 7})

	created := seedRequest(t, svc, staff)

	var row model.PurchaseRequest
	require.NoError(t, db.First(&row, "id = ?", created.ID).Error)
	assert.True(t, row.AmountTolerancePercent.Equal(decimal.NewFromFloat(2.5)),
		"amount tolerance %s", row.AmountTolerancePercent)
	assert.True(t, row.QuantityTolerancePercent.Equal(decimal.NewFromInt(7)),
		"quantity tolerance %s", row.QuantityTolerancePercent)
}

func TestCreateRequestValidation(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	svc := newTestRequestService(db, nil)

	_, err := svc.Create(context.Background(), staff.ID.String(), CreateRequestDTO{})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "title")
	assert.Contains(t, vErr.Fields, "description")
	assert.Contains(t, vErr.Fields, "proforma")

	_, err = svc.Create(context.Background(), staff.ID.String(), CreateRequestDTO{
		Title:       "Chairs",
		Description: "Desk chairs",
		Amount:      "-10",
		ProformaURL: "http://localhost/media/proforma/chairs.pdf",
	})
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "amount")
}

func TestApprovalChain(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	manager := seedUser(t, db, model.RoleManager)
	gm := seedUser(t, db, model.RoleGeneralManager)
	svc := newTestRequestService(db, nil)
	created := seedRequest(t, svc, staff)
	id := created.ID.String()

	afterL1, err := svc.Approve(context.Background(), id, manager.ID.String(), model.RoleManager, "looks fine")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, afterL1.Status)
	assert.Equal(t, model.LevelGeneralManager, afterL1.CurrentLevel)
	require.Len(t, afterL1.Actions, 1)
	assert.Equal(t, model.ActionApproved, afterL1.Actions[0].Action)

	afterL2, err := svc.Approve(context.Background(), id, gm.ID.String(), model.RoleGeneralManager, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, afterL2.Status)
	require.Len(t, afterL2.Actions, 2)
}

func TestApproveWrongRoleForLevel(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	gm := seedUser(t, db, model.RoleGeneralManager)
	svc := newTestRequestService(db, nil)
	created := seedRequest(t, svc, staff)

	// New requests sit at level 1, which belongs to managers.
	_, err := svc.Approve(context.Background(), created.ID.String(), gm.ID.String(), model.RoleGeneralManager, "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSecondDecisionRefused(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	manager := seedUser(t, db, model.RoleManager)
	svc := newTestRequestService(db, nil)

	created := seedRequest(t, svc, staff)
	id := created.ID.String()

	_, err := svc.Reject(context.Background(), id, manager.ID.String(), model.RoleManager, "too expensive")
	require.NoError(t, err)

	// The same actor cannot act again once the request is processed.
	_, err = svc.Approve(context.Background(), id, manager.ID.String(), model.RoleManager, "")
	assert.ErrorIs(t, err, ErrConflict)

	// A manager approving again after a level 1 approval is also refused:
	// the request has moved to level 2.
	other := seedRequest(t, svc, staff)
	_, err = svc.Approve(context.Background(), other.ID.String(), manager.ID.String(), model.RoleManager, "")
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), other.ID.String(), manager.ID.String(), model.RoleManager, "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRejectionIsFinal(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	manager := seedUser(t, db, model.RoleManager)
	gm := seedUser(t, db, model.RoleGeneralManager)
	svc := newTestRequestService(db, nil)
	created := seedRequest(t, svc, staff)
	id := created.ID.String()

	rejected, err := svc.Reject(context.Background(), id, manager.ID.String(), model.RoleManager, "budget freeze")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, rejected.Status)

	_, err = svc.Approve(context.Background(), id, gm.ID.String(), model.RoleGeneralManager, "")
	assert.ErrorIs(t, err, ErrConflict)

	// Owner cannot edit a rejected request either.
	_, err = svc.Update(context.Background(), id, staff.ID.String(), UpdateRequestDTO{Title: "New title"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUpdateOwnerOnly(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	other := seedUser(t, db, model.RoleStaff)
	svc := newTestRequestService(db, nil)
	created := seedRequest(t, svc, staff)

	_, err := svc.Update(context.Background(), created.ID.String(), other.ID.String(), UpdateRequestDTO{Title: "Hijacked"})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.Update(context.Background(), created.ID.String(), staff.ID.String(), UpdateRequestDTO{
		Title:  "Office laptops (revised)",
		Amount: "1400.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "Office laptops (revised)", updated.Title)
	assert.Equal(t, "1400.00", updated.Amount)
}

func approveFully(t *testing.T, db *gorm.DB, svc RequestService, id string) {
	t.Helper()
	manager := seedUser(t, db, model.RoleManager)
	gm := seedUser(t, db, model.RoleGeneralManager)
	_, err := svc.Approve(context.Background(), id, manager.ID.String(), model.RoleManager, "")
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), id, gm.ID.String(), model.RoleGeneralManager, "")
	require.NoError(t, err)
}

func TestSubmitReceipt(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	matcher := &recordingMatcher{}
	svc := newTestRequestService(db, matcher)
	created := seedRequest(t, svc, staff)
	id := created.ID.String()

	// A pending request cannot take a receipt.
	_, err := svc.SubmitReceipt(context.Background(), id, staff.ID.String(), "http://localhost/media/receipts/r.pdf", "", "")
	assert.ErrorIs(t, err, ErrConflict)

	approveFully(t, db, svc, id)

	other := seedUser(t, db, model.RoleStaff)
	_, err = svc.SubmitReceipt(context.Background(), id, other.ID.String(), "http://localhost/media/receipts/r.pdf", "", "")
	assert.ErrorIs(t, err, ErrForbidden)

	items := `[{"name":"Laptop","price":750.25,"quantity":2}]`
	updated, err := svc.SubmitReceipt(context.Background(), id, staff.ID.String(), "http://localhost/media/receipts/r.pdf", items, "Acme Supplies")
	require.NoError(t, err)
	assert.Equal(t, model.MatchPending, updated.ThreeWayMatchStatus)
	assert.NotEmpty(t, updated.Receipt)
	require.Len(t, matcher.enqueued, 1)
	assert.Equal(t, created.ID, matcher.enqueued[0])
}

func TestSubmitInvoiceRequiresMatch(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	svc := newTestRequestService(db, nil)
	created := seedRequest(t, svc, staff)
	id := created.ID.String()
	approveFully(t, db, svc, id)

	// Match has not run yet.
	_, err := svc.SubmitInvoice(context.Background(), id, "http://localhost/media/invoices/i.pdf")
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, db.Model(&model.PurchaseRequest{}).
		Where("id = ?", created.ID).
		Update("three_way_match_status", model.MatchMatched).Error)

	updated, err := svc.SubmitInvoice(context.Background(), id, "http://localhost/media/invoices/i.pdf")
	require.NoError(t, err)
	assert.NotEmpty(t, updated.Invoice)
}

func TestSummaryCountsByStatus(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	manager := seedUser(t, db, model.RoleManager)
	svc := newTestRequestService(db, nil)

	first := seedRequest(t, svc, staff)
	seedRequest(t, svc, staff)
	_, err := svc.Reject(context.Background(), first.ID.String(), manager.ID.String(), model.RoleManager, "")
	require.NoError(t, err)

	counts, err := svc.Summary(context.Background(), staff.ID.String(), model.RoleStaff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[model.StatusPending])
	assert.EqualValues(t, 1, counts[model.StatusRejected])
}

func TestListRoleScoping(t *testing.T) {
	db := newTestDB(t)
	alice := seedUser(t, db, model.RoleStaff)
	bob := seedUser(t, db, model.RoleStaff)
	manager := seedUser(t, db, model.RoleManager)
	finance := seedUser(t, db, model.RoleFinance)
	svc := newTestRequestService(db, nil)

	mine := seedRequest(t, svc, alice)
	seedRequest(t, svc, bob)
	approveFully(t, db, svc, mine.ID.String())

	// Staff only see their own requests.
	results, total, err := svc.List(context.Background(), alice.ID.String(), model.RoleStaff, ListRequestsQuery{PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, mine.ID, results[0].ID)

	// Managers see the level 1 queue plus their own decisions; the
	// approved request moved past level 1.
	_, total, err = svc.List(context.Background(), manager.ID.String(), model.RoleManager, ListRequestsQuery{Status: "PENDING", PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	// Finance only sees fully approved requests.
	results, total, err = svc.List(context.Background(), finance.ID.String(), model.RoleFinance, ListRequestsQuery{PageSize: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, mine.ID, results[0].ID)
}

func TestMatchEvaluation(t *testing.T) {
	db := newTestDB(t)
	staff := seedUser(t, db, model.RoleStaff)
	svc := NewMatchService(db, nil, 0)

	seed := func(proforma, receipt string) uuid.UUID {
		r := &model.PurchaseRequest{
			Title:                    "Match test",
			Description:              "x",
			Amount:                   decimal.NewFromInt(100),
			Currency:                 "USD",
			Status:                   model.StatusApproved,
			CurrentLevel:             model.LevelGeneralManager,
			CreatedByID:              staff.ID,
			Proforma:                 "p.pdf",
			Receipt:                  "r.pdf",
			ProformaItems:            proforma,
			ReceiptItems:             receipt,
			ThreeWayMatchStatus:      model.MatchPending,
			AmountTolerancePercent:   decimal.NewFromInt(5),
			QuantityTolerancePercent: decimal.NewFromInt(10),
		}
		require.NoError(t, db.Create(r).Error)
		return r.ID
	}

	fetch := func(id uuid.UUID) *model.PurchaseRequest {
		var r model.PurchaseRequest
		require.NoError(t, db.First(&r, "id = ?", id).Error)
		return &r
	}

	t.Run("within tolerance matches", func(t *testing.T) {
		// 4% price drift and no quantity drift stay inside 5%/10%.
		id := seed(
			`[{"name":"Laptop","price":100,"quantity":10}]`,
			`[{"name":"Laptop","price":104,"quantity":10}]`,
		)
		require.NoError(t, svc.Process(context.Background(), id))
		assert.Equal(t, model.MatchMatched, fetch(id).ThreeWayMatchStatus)
	})

	t.Run("price outside tolerance", func(t *testing.T) {
		id := seed(
			`[{"name":"Laptop","price":100,"quantity":10}]`,
			`[{"name":"Laptop","price":110,"quantity":10}]`,
		)
		require.NoError(t, svc.Process(context.Background(), id))
		got := fetch(id)
		assert.Equal(t, model.MatchDiscrepancy, got.ThreeWayMatchStatus)
		assert.NotEmpty(t, got.DiscrepancyDetails)

		var report MatchReport
		require.NoError(t, json.Unmarshal([]byte(got.DiscrepancyDetails), &report))
		require.NotEmpty(t, report.Issues)
		assert.Equal(t, "price", report.Issues[0].Type)
	})

	t.Run("quantity outside tolerance", func(t *testing.T) {
		id := seed(
			`[{"name":"Laptop","price":100,"quantity":10}]`,
			`[{"name":"Laptop","price":100,"quantity":12}]`,
		)
		require.NoError(t, svc.Process(context.Background(), id))
		assert.Equal(t, model.MatchDiscrepancy, fetch(id).ThreeWayMatchStatus)
	})

	t.Run("missing and extra items", func(t *testing.T) {
		id := seed(
			`[{"name":"Laptop","price":100,"quantity":10}]`,
			`[{"name":"Mouse","price":10,"quantity":10}]`,
		)
		require.NoError(t, svc.Process(context.Background(), id))
		got := fetch(id)
		assert.Equal(t, model.MatchDiscrepancy, got.ThreeWayMatchStatus)

		var report MatchReport
		require.NoError(t, json.Unmarshal([]byte(got.DiscrepancyDetails), &report))
		types := make([]string, 0, len(report.Issues))
		for _, issue := range report.Issues {
			types = append(types, issue.Type)
		}
		assert.Contains(t, types, "missing_item")
		assert.Contains(t, types, "extra_item")
	})

	t.Run("no items on either side matches", func(t *testing.T) {
		id := seed("", "")
		require.NoError(t, svc.Process(context.Background(), id))
		assert.Equal(t, model.MatchMatched, fetch(id).ThreeWayMatchStatus)
	})

	setVendors := func(id uuid.UUID, requested, onReceipt string) {
		require.NoError(t, db.Model(&model.PurchaseRequest{}).Where("id = ?", id).
			Updates(map[string]interface{}{
				"vendor_name":         requested,
				"receipt_vendor_name": onReceipt,
			}).Error)
	}

	t.Run("receipt from a different vendor", func(t *testing.T) {
		id := seed(
			`[{"name":"Laptop","price":100,"quantity":10}]`,
			`[{"name":"Laptop","price":100,"quantity":10}]`,
		)
		setVendors(id, "Acme Supplies", "Globex Traders")
		require.NoError(t, svc.Process(context.Background(), id))
		got := fetch(id)
		assert.Equal(t, model.MatchDiscrepancy, got.ThreeWayMatchStatus)

		var report MatchReport
		require.NoError(t, json.Unmarshal([]byte(got.DiscrepancyDetails), &report))
		assert.False(t, report.VendorMatch)
		require.NotEmpty(t, report.Issues)
		assert.Equal(t, "vendor", report.Issues[0].Type)
	})

	t.Run("vendor compared after normalization", func(t *testing.T) {
		id := seed(
			`[{"name":"Laptop","price":100,"quantity":10}]`,
			`[{"name":"Laptop","price":100,"quantity":10}]`,
		)
		setVendors(id, "Acme Supplies", "  acme   SUPPLIES ")
		require.NoError(t, svc.Process(context.Background(), id))
		assert.Equal(t, model.MatchMatched, fetch(id).ThreeWayMatchStatus)
	})

	t.Run("unnamed receipt vendor is not checked", func(t *testing.T) {
		id := seed(
			`[{"name":"Laptop","price":100,"quantity":10}]`,
			`[{"name":"Laptop","price":100,"quantity":10}]`,
		)
		setVendors(id, "Acme Supplies", "")
		require.NoError(t, svc.Process(context.Background(), id))
		assert.Equal(t, model.MatchMatched, fetch(id).ThreeWayMatchStatus)
	})
}
