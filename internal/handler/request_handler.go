package handler

import (
	"errors"
	"log"
	"net/http"

	"procurement/internal/middleware"
	"procurement/internal/model"
	"procurement/internal/service"
	"procurement/internal/storage"
	"procurement/pkg/pagination"
	"procurement/pkg/response"

	"github.com/gin-gonic/gin"
)

type RequestHandler struct {
	requestService service.RequestService
	store          storage.Store
}

func NewRequestHandler(requestService service.RequestService, store storage.Store) *RequestHandler {
	return &RequestHandler{requestService: requestService, store: store}
}

func (h *RequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests")
	{
		requests.GET("/", middleware.RequireAuth(), h.List)
		requests.GET("/summary/", middleware.RequireAuth(), h.Summary)
		requests.POST("/", middleware.RequireRole(model.RoleStaff), h.Create)
		requests.GET("/:id/", middleware.RequireAuth(), h.Get)
		requests.PATCH("/:id/", middleware.RequireRole(model.RoleStaff), h.Update)
		requests.PATCH("/:id/approve/", middleware.RequireRole(model.RoleManager, model.RoleGeneralManager), h.Approve)
		requests.PATCH("/:id/reject/", middleware.RequireRole(model.RoleManager, model.RoleGeneralManager), h.Reject)
		requests.POST("/:id/submit_receipt/", middleware.RequireRole(model.RoleStaff), h.SubmitReceipt)
		requests.POST("/:id/finance-submit-invoice/", middleware.RequireRole(model.RoleFinance), h.SubmitInvoice)
	}
}

// discardUpload removes a stored document whose owning mutation was
// rejected, so failed submissions leave no orphan objects behind
func discardUpload(c *gin.Context, store storage.Store, url string) {
	if url == "" {
		return
	}
	if err := store.Delete(c.Request.Context(), url); err != nil {
		log.Printf("failed to discard rejected upload %s: %v", url, err)
	}
}

// writeServiceError maps service sentinel errors onto HTTP statuses
func writeServiceError(c *gin.Context, err error) {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, response.ValidationError(ve.Error(), ve.Fields))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, response.Error("Request not found"))
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, response.Error(err.Error()))
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusBadRequest, response.Error(err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, response.Error(err.Error()))
	}
}

// List handles GET /api/requests/ with role-scoped filtering
// @Summary      List purchase requests
// @Description  Returns requests scoped by role (staff: own, approvers: their level, finance: approved), filtered by status/search, paginated at 10 per page.
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        page            query  int     false  "Page number (default 1)"
// @Param        status          query  string  false  "PENDING, APPROVED, REJECTED or all"
// @Param        search          query  string  false  "Matches title, description, vendor"
// @Param        approved_by_me  query  string  false  "Approvers only: 1 = already acted at current level, 0 = not yet"
// @Success      200  {object}  response.Envelope{data=pagination.Page}
// @Router       /api/requests/ [get]
func (h *RequestHandler) List(c *gin.Context) {
	params := pagination.Parse(c)

	results, total, err := h.requestService.List(c.Request.Context(), currentUserID(c), currentUserRole(c), service.ListRequestsQuery{
		Status:       c.Query("status"),
		Search:       c.Query("search"),
		ApprovedByMe: c.Query("approved_by_me"),
		Offset:       params.Offset,
		PageSize:     params.PageSize,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}

	page := pagination.NewPage(c, params, total, results)
	c.JSON(http.StatusOK, response.Success("Requests retrieved successfully", page))
}

// Summary handles GET /api/requests/summary/ returning per-status counts for
// the caller's scope, feeding the dashboard stat cards
// @Summary      Request status summary
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Envelope
// @Router       /api/requests/summary/ [get]
func (h *RequestHandler) Summary(c *gin.Context) {
	counts, err := h.requestService.Summary(c.Request.Context(), currentUserID(c), currentUserRole(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success("Summary retrieved successfully", counts))
}

// Create handles POST /api/requests/ (staff only, multipart)
// @Summary      Create a new purchase request
// @Description  Staff submit a request with a proforma document (PDF/JPEG/PNG, max 5MB) and optional line items JSON.
// @Tags         requests
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        title        formData  string  true   "Title"
// @Param        description  formData  string  true   "Description"
// @Param        amount       formData  string  true   "Decimal amount"
// @Param        vendor_name  formData  string  false  "Vendor"
// @Param        items        formData  string  false  "Line items JSON array"
// @Param        proforma     formData  file    true   "Proforma document"
// @Success      201  {object}  response.Envelope{data=service.RequestResponse}
// @Failure      400  {object}  response.Envelope
// @Router       /api/requests/ [post]
func (h *RequestHandler) Create(c *gin.Context) {
	proformaURL, err := saveUpload(c, h.store, "proforma", "proforma_files", true)
	if err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			c.JSON(http.StatusBadRequest, response.FieldError(ue.Field, ue.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error("Failed to store proforma"))
		return
	}

	result, err := h.requestService.Create(c.Request.Context(), currentUserID(c), service.CreateRequestDTO{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Amount:      c.PostForm("amount"),
		VendorName:  c.PostForm("vendor_name"),
		ItemsJSON:   c.PostForm("items"),
		ProformaURL: proformaURL,
	})
	if err != nil {
		discardUpload(c, h.store, proformaURL)
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success("Purchase request created", result))
}

// Get handles GET /api/requests/:id/
// @Summary      Retrieve a purchase request
// @Description  Full details including approval history and document URLs.
// @Tags         requests
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  string  true  "Request ID"
// @Success      200  {object}  response.Envelope{data=service.RequestResponse}
// @Failure      404  {object}  response.Envelope
// @Router       /api/requests/{id}/ [get]
func (h *RequestHandler) Get(c *gin.Context) {
	result, err := h.requestService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success("Request retrieved successfully", result))
}

// Update handles PATCH /api/requests/:id/ (staff, own PENDING requests)
// @Summary      Update a pending purchase request
// @Tags         requests
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id  path  string  true  "Request ID"
// @Success      200  {object}  response.Envelope{data=service.RequestResponse}
// @Failure      403  {object}  response.Envelope
// @Router       /api/requests/{id}/ [patch]
func (h *RequestHandler) Update(c *gin.Context) {
	proformaURL, err := saveUpload(c, h.store, "proforma", "proforma_files", false)
	if err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			c.JSON(http.StatusBadRequest, response.FieldError(ue.Field, ue.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error("Failed to store proforma"))
		return
	}

	result, err := h.requestService.Update(c.Request.Context(), c.Param("id"), currentUserID(c), service.UpdateRequestDTO{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Amount:      c.PostForm("amount"),
		VendorName:  c.PostForm("vendor_name"),
		ItemsJSON:   c.PostForm("items"),
		ProformaURL: proformaURL,
	})
	if err != nil {
		discardUpload(c, h.store, proformaURL)
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success("Request updated successfully", result))
}

// Approve handles PATCH /api/requests/:id/approve/
// @Summary      Approve a purchase request
// @Description  Level 1 is approved by managers, level 2 by general managers; final approval triggers purchase order generation.
// @Tags         requests
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true   "Request ID"
// @Param        comment  formData  string  false  "Optional comment"
// @Success      200  {object}  response.Envelope{data=service.RequestResponse}
// @Failure      403  {object}  response.Envelope
// @Router       /api/requests/{id}/approve/ [patch]
func (h *RequestHandler) Approve(c *gin.Context) {
	result, err := h.requestService.Approve(c.Request.Context(), c.Param("id"), currentUserID(c), currentUserRole(c), c.PostForm("comment"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success("Request approved successfully", result))
}

// Reject handles PATCH /api/requests/:id/reject/
// @Summary      Reject a purchase request
// @Description  Rejection at any level is final and stops the workflow.
// @Tags         requests
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true   "Request ID"
// @Param        comment  formData  string  false  "Optional comment"
// @Success      200  {object}  response.Envelope{data=service.RequestResponse}
// @Failure      403  {object}  response.Envelope
// @Router       /api/requests/{id}/reject/ [patch]
func (h *RequestHandler) Reject(c *gin.Context) {
	result, err := h.requestService.Reject(c.Request.Context(), c.Param("id"), currentUserID(c), currentUserRole(c), c.PostForm("comment"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success("Request rejected successfully", result))
}

// SubmitReceipt handles POST /api/requests/:id/submit_receipt/
// @Summary      Submit a receipt for an approved request
// @Description  Staff upload a receipt after approval; triggers asynchronous three-way match validation.
// @Tags         requests
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id           path      string  true   "Request ID"
// @Param        receipt      formData  file    true   "Receipt document"
// @Param        items        formData  string  false  "Receipt line items JSON array"
// @Param        vendor_name  formData  string  false  "Vendor named on the receipt"
// @Success      200  {object}  response.Envelope{data=service.RequestResponse}
// @Failure      400  {object}  response.Envelope
// @Router       /api/requests/{id}/submit_receipt/ [post]
func (h *RequestHandler) SubmitReceipt(c *gin.Context) {
	receiptURL, err := saveUpload(c, h.store, "receipt", "receipts", true)
	if err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			c.JSON(http.StatusBadRequest, response.FieldError(ue.Field, ue.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error("Failed to store receipt"))
		return
	}

	result, err := h.requestService.SubmitReceipt(c.Request.Context(), c.Param("id"), currentUserID(c), receiptURL, c.PostForm("items"), c.PostForm("vendor_name"))
	if err != nil {
		discardUpload(c, h.store, receiptURL)
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success("Receipt submitted successfully", result))
}

// SubmitInvoice handles POST /api/requests/:id/finance-submit-invoice/
// @Summary      Finance: upload an invoice file
// @Description  Finance attach the invoice once the three-way match has passed.
// @Tags         requests
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string  true  "Request ID"
// @Param        invoice  formData  file    true  "Invoice document"
// @Success      200  {object}  response.Envelope{data=service.RequestResponse}
// @Failure      400  {object}  response.Envelope
// @Router       /api/requests/{id}/finance-submit-invoice/ [post]
func (h *RequestHandler) SubmitInvoice(c *gin.Context) {
	invoiceURL, err := saveUpload(c, h.store, "invoice", "invoices", true)
	if err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			c.JSON(http.StatusBadRequest, response.FieldError(ue.Field, ue.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error("Failed to store invoice"))
		return
	}

	result, err := h.requestService.SubmitInvoice(c.Request.Context(), c.Param("id"), invoiceURL)
	if err != nil {
		discardUpload(c, h.store, invoiceURL)
		writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success("Invoice uploaded successfully", result))
}
