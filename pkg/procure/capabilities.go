package procure

// Capabilities lists the actions a user may take on a single request.
// The server enforces the same rules; this drives which controls a
// front end renders.
type Capabilities struct {
	CanEdit          bool
	CanApprove       bool
	CanReject        bool
	CanSubmitReceipt bool
	CanSubmitInvoice bool
	CanViewReceipt   bool
}

// CapabilitiesFor derives the action set from the viewer's role, the
// request state and whether the viewer created the request.
func CapabilitiesFor(role, viewerID string, r *Request) Capabilities {
	var caps Capabilities
	if r == nil {
		return caps
	}
	owner := r.CreatedBy != nil && r.CreatedBy.ID == viewerID

	switch role {
	case RoleStaff:
		if owner && r.Status == StatusPending {
			caps.CanEdit = true
		}
		if owner && r.Status == StatusApproved {
			caps.CanViewReceipt = true
			if r.ThreeWayMatchStatus == MatchPending || r.ThreeWayMatchStatus == MatchDiscrepancy {
				caps.CanSubmitReceipt = true
			}
		}
	case RoleManager:
		if r.Status == StatusPending && r.CurrentLevel == 1 {
			caps.CanApprove = true
			caps.CanReject = true
		}
	case RoleGeneralManager:
		if r.Status == StatusPending && r.CurrentLevel == 2 {
			caps.CanApprove = true
			caps.CanReject = true
		}
	case RoleFinance:
		// Uploading over an existing invoice replaces it, so the action
		// stays available after the first attachment.
		if r.Status == StatusApproved && r.ThreeWayMatchStatus == MatchMatched {
			caps.CanSubmitInvoice = true
		}
	}
	return caps
}
