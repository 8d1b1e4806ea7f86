package procure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// MaxUploadBytes caps attached documents at 5 MB, matching the server.
const MaxUploadBytes = 5 << 20

var (
	// ErrFileTooLarge means the document exceeds MaxUploadBytes.
	ErrFileTooLarge = errors.New("procure: file exceeds the 5MB limit")
	// ErrFileType means the document is not a PDF or image.
	ErrFileType = errors.New("procure: only PDF, JPEG and PNG files are accepted")
	// ErrFileRequired means a mandatory document was not provided.
	ErrFileRequired = errors.New("procure: a file is required")
)

var acceptedMIMETypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
}

var mimeByExtension = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// Upload is a document selected for attachment. Content is held in
// memory so the size and type can be checked before any request is
// issued.
type Upload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Validate checks the upload against the size cap and type allowlist.
// Both checks run locally; an invalid file never reaches the network.
func (u *Upload) Validate() error {
	if u == nil || len(u.Content) == 0 {
		return ErrFileRequired
	}
	if len(u.Content) > MaxUploadBytes {
		return ErrFileTooLarge
	}
	ct := strings.ToLower(u.ContentType)
	if ct == "" {
		ct = mimeByExtension[strings.ToLower(filepath.Ext(u.Filename))]
	}
	if !acceptedMIMETypes[ct] {
		return ErrFileType
	}
	return nil
}

// LineItem is one proforma or receipt line.
type LineItem struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// UserSummary identifies the creator or an approver on a request.
type UserSummary struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// Action is one recorded approval decision.
type Action struct {
	ID        string       `json:"id"`
	Level     int          `json:"level"`
	Action    string       `json:"action"`
	Comment   string       `json:"comment"`
	Actor     *UserSummary `json:"actor,omitempty"`
	CreatedAt string       `json:"created_at"`
}

// Request is the server's purchase request representation.
type Request struct {
	ID                  string          `json:"id"`
	Title               string          `json:"title"`
	Description         string          `json:"description"`
	Amount              string          `json:"amount"`
	Currency            string          `json:"currency"`
	VendorName          string          `json:"vendor_name"`
	Status              string          `json:"status"`
	CurrentLevel        int             `json:"current_level"`
	ThreeWayMatchStatus string          `json:"three_way_match_status"`
	CreatedBy           *UserSummary    `json:"created_by,omitempty"`
	Proforma            string          `json:"proforma,omitempty"`
	PurchaseOrder       string          `json:"purchase_order,omitempty"`
	Receipt             string          `json:"receipt,omitempty"`
	Invoice             string          `json:"invoice,omitempty"`
	DiscrepancyDetails  json.RawMessage `json:"discrepancy_details,omitempty"`
	Actions             []Action        `json:"actions,omitempty"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
}

// RequestPage is one page of list results.
type RequestPage struct {
	Count    int64     `json:"count"`
	Next     *string   `json:"next"`
	Previous *string   `json:"previous"`
	Results  []Request `json:"results"`
}

// ListRequests fetches the page of requests visible to the signed-in
// user for the given query.
func (c *Client) ListRequests(ctx context.Context, q ListQuery) (*RequestPage, error) {
	values := url.Values{}
	if q.Page > 1 {
		values.Set("page", strconv.Itoa(q.Page))
	}
	if q.Status != "" {
		values.Set("status", q.Status)
	}
	if q.Search != "" {
		values.Set("search", q.Search)
	}
	if q.ApprovedByMe {
		values.Set("approved_by_me", "1")
	}

	var page RequestPage
	if err := c.get(ctx, "/api/requests/", values, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetRequest fetches one request with its full approval history.
func (c *Client) GetRequest(ctx context.Context, id string) (*Request, error) {
	var r Request
	if err := c.get(ctx, "/api/requests/"+id+"/", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Summary returns status counts for the dashboard header.
func (c *Client) Summary(ctx context.Context) (map[string]int64, error) {
	var counts map[string]int64
	if err := c.get(ctx, "/api/requests/summary/", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// NewRequestInput is the submission form payload.
type NewRequestInput struct {
	Title       string
	Description string
	Amount      string
	VendorName  string
	Items       []LineItem
	Proforma    *Upload
}

// CreateRequest submits a new purchase request. The proforma document
// is validated before anything is sent.
func (c *Client) CreateRequest(ctx context.Context, in NewRequestInput) (*Request, error) {
	if err := in.Proforma.Validate(); err != nil {
		return nil, err
	}

	form, err := c.requestForm(in, true)
	if err != nil {
		return nil, err
	}

	var r Request
	if err := c.postForm(ctx, "POST", "/api/requests/", form.contentType, form.body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateRequest edits a pending request. The proforma is optional;
// when present it replaces the existing document and is validated
// first.
func (c *Client) UpdateRequest(ctx context.Context, id string, in NewRequestInput) (*Request, error) {
	if in.Proforma != nil {
		if err := in.Proforma.Validate(); err != nil {
			return nil, err
		}
	}

	form, err := c.requestForm(in, false)
	if err != nil {
		return nil, err
	}

	var r Request
	if err := c.postForm(ctx, "PATCH", "/api/requests/"+id+"/", form.contentType, form.body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Approve records an approval at the signed-in approver's level.
func (c *Client) Approve(ctx context.Context, id, comment string) (*Request, error) {
	return c.decide(ctx, id, "approve", comment)
}

// Reject records a rejection. Rejection is final at any level.
func (c *Client) Reject(ctx context.Context, id, comment string) (*Request, error) {
	return c.decide(ctx, id, "reject", comment)
}

func (c *Client) decide(ctx context.Context, id, verb, comment string) (*Request, error) {
	values := url.Values{}
	values.Set("comment", comment)

	var r Request
	path := fmt.Sprintf("/api/requests/%s/%s/", id, verb)
	body := strings.NewReader(values.Encode())
	if err := c.postForm(ctx, "PATCH", path, "application/x-www-form-urlencoded", body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SubmitReceipt uploads the delivery receipt, its line items and the
// vendor named on it for an approved request, triggering a new
// three-way match evaluation. vendorName may be empty when the receipt
// does not name one.
func (c *Client) SubmitReceipt(ctx context.Context, id string, receipt *Upload, items []LineItem, vendorName string) (*Request, error) {
	if err := receipt.Validate(); err != nil {
		return nil, err
	}

	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}

	form := newMultipart()
	if err := form.file("receipt", receipt); err != nil {
		return nil, err
	}
	form.field("items", string(itemsJSON))
	if vendorName != "" {
		form.field("vendor_name", vendorName)
	}
	if err := form.close(); err != nil {
		return nil, err
	}

	var r Request
	if err := c.postForm(ctx, "POST", "/api/requests/"+id+"/submit_receipt/", form.contentType, form.body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SubmitInvoice attaches the vendor invoice. The server only accepts
// it once the three-way match has passed.
func (c *Client) SubmitInvoice(ctx context.Context, id string, invoice *Upload) (*Request, error) {
	if err := invoice.Validate(); err != nil {
		return nil, err
	}

	form := newMultipart()
	if err := form.file("invoice", invoice); err != nil {
		return nil, err
	}
	if err := form.close(); err != nil {
		return nil, err
	}

	var r Request
	if err := c.postForm(ctx, "POST", "/api/requests/"+id+"/finance-submit-invoice/", form.contentType, form.body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// requestForm assembles the create/update multipart body.
func (c *Client) requestForm(in NewRequestInput, proformaRequired bool) (*multipartForm, error) {
	form := newMultipart()
	form.field("title", in.Title)
	form.field("description", in.Description)
	form.field("amount", in.Amount)
	if in.VendorName != "" {
		form.field("vendor_name", in.VendorName)
	}
	if in.Items != nil {
		itemsJSON, err := json.Marshal(in.Items)
		if err != nil {
			return nil, err
		}
		form.field("items", string(itemsJSON))
	}
	if in.Proforma != nil {
		if err := form.file("proforma", in.Proforma); err != nil {
			return nil, err
		}
	} else if proformaRequired {
		return nil, ErrFileRequired
	}
	if err := form.close(); err != nil {
		return nil, err
	}
	return form, nil
}

type multipartForm struct {
	body        *bytes.Buffer
	writer      *multipart.Writer
	contentType string
}

func newMultipart() *multipartForm {
	buf := &bytes.Buffer{}
	return &multipartForm{body: buf, writer: multipart.NewWriter(buf)}
}

func (f *multipartForm) field(name, value string) {
	f.writer.WriteField(name, value)
}

func (f *multipartForm) file(name string, u *Upload) error {
	part, err := f.writer.CreateFormFile(name, u.Filename)
	if err != nil {
		return err
	}
	_, err = part.Write(u.Content)
	return err
}

func (f *multipartForm) close() error {
	if err := f.writer.Close(); err != nil {
		return err
	}
	f.contentType = f.writer.FormDataContentType()
	return nil
}
