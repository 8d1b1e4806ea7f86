package procure

// Role and status string values as the server reports them.
const (
	RoleStaff          = "staff"
	RoleManager        = "manager"
	RoleGeneralManager = "general_manager"
	RoleFinance        = "finance"

	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"

	MatchPending     = "PENDING"
	MatchMatched     = "MATCHED"
	MatchDiscrepancy = "DISCREPANCY"
)

// PageSize is the fixed server page size.
const PageSize = 10

// ListQuery is the dashboard list state: filters, search and the
// current page.
type ListQuery struct {
	Page         int
	Status       string
	Search       string
	ApprovedByMe bool
}

// DefaultQuery returns the filter state a user of the given role lands
// on. Approvers start on the pending queue they can act on; finance
// starts on approved requests awaiting invoices; staff see everything
// of their own.
func DefaultQuery(role string) ListQuery {
	q := ListQuery{Page: 1, Status: "all"}
	switch role {
	case RoleManager, RoleGeneralManager:
		q.Status = StatusPending
	case RoleFinance:
		q.Status = StatusApproved
	}
	return q
}

// WithStatus changes the status filter and resets to the first page.
func (q ListQuery) WithStatus(status string) ListQuery {
	q.Status = status
	q.Page = 1
	return q
}

// WithSearch changes the search term and resets to the first page.
func (q ListQuery) WithSearch(search string) ListQuery {
	q.Search = search
	q.Page = 1
	return q
}

// WithApprovedByMe toggles the history filter and resets to the first
// page.
func (q ListQuery) WithApprovedByMe(on bool) ListQuery {
	q.ApprovedByMe = on
	q.Page = 1
	return q
}

// WithPage moves to the given page, clamping below at 1.
func (q ListQuery) WithPage(page int) ListQuery {
	if page < 1 {
		page = 1
	}
	q.Page = page
	return q
}

// TotalPages computes the page count for a result set.
func TotalPages(count int64) int {
	if count <= 0 {
		return 1
	}
	pages := int(count / PageSize)
	if count%PageSize != 0 {
		pages++
	}
	return pages
}
