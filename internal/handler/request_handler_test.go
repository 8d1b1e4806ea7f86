package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"procurement/internal/database"
	"procurement/internal/middleware"
	"procurement/internal/model"
	"procurement/internal/repository"
	"procurement/internal/service"
	"procurement/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type testServer struct {
	router     *gin.Engine
	db         *gorm.DB
	requestSvc service.RequestService
	mediaDir   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	middleware.Init([]byte(testSecret))

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	mediaDir := t.TempDir()
	store := storage.NewLocalStore(mediaDir, "http://localhost:8080")
	userSvc := service.NewUserService(
		repository.NewUserRepository(db),
		repository.NewTokenRepository(db),
		[]byte(testSecret),
		15*time.Minute, 7*24*time.Hour, 48*time.Hour,
	)
	requestSvc := service.NewRequestService(db, repository.NewRequestRepository(db), nil, nil, nil, service.DefaultTolerances())

	router := gin.New()
	NewUserHandler(userSvc, store).RegisterRoutes(router.Group(""))
	NewRequestHandler(requestSvc, store).RegisterRoutes(router.Group(""))
	NewAuditHandler(service.NewAuditService(db)).RegisterRoutes(router.Group(""))

	return &testServer{router: router, db: db, requestSvc: requestSvc, mediaDir: mediaDir}
}

func (s *testServer) seedUser(t *testing.T, role string) *model.User {
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
	require.NoError(t, s.db.Create(u).Error)
	return u
}

func (s *testServer) token(t *testing.T, u *model.User) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  u.ID.String(),
		"role": u.Role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type testEnvelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Errors  map[string][]string `json:"errors"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

// multipartRequest builds a multipart body with text fields and an
// optional single file part.
func multipartRequest(t *testing.T, fields map[string]string, fileField, fileName, fileType string, fileBody []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if fileField != "" {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, fileName))
		header.Set("Content-Type", fileType)
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(fileBody)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func requestFields() map[string]string {
	return map[string]string{
		"title":       "Office laptops",
		"description": "Replacement laptops for the support desk",
		"amount":      "1500.50",
		"vendor_name": "Acme Supplies",
		"items":       `[{"name":"Laptop","price":750.25,"quantity":2}]`,
	}
}

func (s *testServer) createRequest(t *testing.T, token string) service.RequestResponse {
	t.Helper()
	body, contentType := multipartRequest(t, requestFields(), "proforma", "proforma.pdf", "application/pdf", []byte("%PDF-1.4 test"))
	w := s.do(t, http.MethodPost, "/api/requests/", token, body, contentType)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	env := decodeEnvelope(t, w)
	require.True(t, env.Success)
	var created service.RequestResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	return created
}

func TestCreateRequestEndpoint(t *testing.T) {
	s := newTestServer(t)
	staff := s.seedUser(t, model.RoleStaff)

	created := s.createRequest(t, s.token(t, staff))
	assert.Equal(t, model.StatusPending, created.Status)
	assert.Equal(t, model.LevelManager, created.CurrentLevel)
	assert.NotEmpty(t, created.Proforma)
}

func TestCreateRequestUploadValidation(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, s.seedUser(t, model.RoleStaff))

	t.Run("missing proforma", func(t *testing.T) {
		body, contentType := multipartRequest(t, requestFields(), "", "", "", nil)
		w := s.do(t, http.MethodPost, "/api/requests/", token, body, contentType)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decodeEnvelope(t, w)
		assert.Contains(t, env.Errors, "proforma")
	})

	t.Run("oversized file", func(t *testing.T) {
		big := bytes.Repeat([]byte("a"), MaxUploadSize+1)
		body, contentType := multipartRequest(t, requestFields(), "proforma", "huge.pdf", "application/pdf", big)
		w := s.do(t, http.MethodPost, "/api/requests/", token, body, contentType)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decodeEnvelope(t, w)
		assert.Contains(t, env.Errors, "proforma")
	})

	t.Run("disallowed type", func(t *testing.T) {
		body, contentType := multipartRequest(t, requestFields(), "proforma", "run.exe", "application/octet-stream", []byte("MZ"))
		w := s.do(t, http.MethodPost, "/api/requests/", token, body, contentType)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		env := decodeEnvelope(t, w)
		assert.Contains(t, env.Errors, "proforma")
	})
}

func TestRequestRouteGuards(t *testing.T) {
	s := newTestServer(t)
	manager := s.seedUser(t, model.RoleManager)
	staff := s.seedUser(t, model.RoleStaff)

	// No token.
	w := s.do(t, http.MethodGet, "/api/requests/", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Only staff create requests.
	body, contentType := multipartRequest(t, requestFields(), "proforma", "p.pdf", "application/pdf", []byte("%PDF"))
	w = s.do(t, http.MethodPost, "/api/requests/", s.token(t, manager), body, contentType)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Staff cannot reach the approval endpoints.
	w = s.do(t, http.MethodPatch, "/api/requests/"+uuid.NewString()+"/approve/", s.token(t, staff), nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestApprovalFlowEndpoints(t *testing.T) {
	s := newTestServer(t)
	staff := s.seedUser(t, model.RoleStaff)
	manager := s.seedUser(t, model.RoleManager)
	gm := s.seedUser(t, model.RoleGeneralManager)
	finance := s.seedUser(t, model.RoleFinance)

	created := s.createRequest(t, s.token(t, staff))
	path := "/api/requests/" + created.ID.String()

	// Level 1 approval by a manager.
	body, contentType := multipartRequest(t, map[string]string{"comment": "ok"}, "", "", "", nil)
	w := s.do(t, http.MethodPatch, path+"/approve/", s.token(t, manager), body, contentType)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A general manager cannot act at level 1 twice; level is now 2.
	body, contentType = multipartRequest(t, nil, "", "", "", nil)
	w = s.do(t, http.MethodPatch, path+"/approve/", s.token(t, gm), body, contentType)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, path+"/", s.token(t, staff), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var got service.RequestResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &got))
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Len(t, got.Actions, 2)

	// Invoice is blocked until the three-way match passes.
	body, contentType = multipartRequest(t, nil, "invoice", "invoice.pdf", "application/pdf", []byte("%PDF"))
	w = s.do(t, http.MethodPost, path+"/finance-submit-invoice/", s.token(t, finance), body, contentType)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	require.NoError(t, s.db.Model(&model.PurchaseRequest{}).
		Where("id = ?", created.ID).
		Update("three_way_match_status", model.MatchMatched).Error)

	body, contentType = multipartRequest(t, nil, "invoice", "invoice.pdf", "application/pdf", []byte("%PDF"))
	w = s.do(t, http.MethodPost, path+"/finance-submit-invoice/", s.token(t, finance), body, contentType)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRejectedSubmissionLeavesNoStoredFile(t *testing.T) {
	s := newTestServer(t)
	staff := s.seedUser(t, model.RoleStaff)

	created := s.createRequest(t, s.token(t, staff))

	// The request is still pending, so the receipt is refused and the
	// uploaded file must not linger in the store.
	body, contentType := multipartRequest(t, nil, "receipt", "receipt.pdf", "application/pdf", []byte("%PDF"))
	w := s.do(t, http.MethodPost, "/api/requests/"+created.ID.String()+"/submit_receipt/", s.token(t, staff), body, contentType)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	entries, err := os.ReadDir(filepath.Join(s.mediaDir, "receipts"))
	if err == nil {
		assert.Empty(t, entries)
	} else {
		assert.True(t, os.IsNotExist(err))
	}
}

func TestRejectEndpointIsFinal(t *testing.T) {
	s := newTestServer(t)
	staff := s.seedUser(t, model.RoleStaff)
	manager := s.seedUser(t, model.RoleManager)

	created := s.createRequest(t, s.token(t, staff))
	path := "/api/requests/" + created.ID.String()

	body, contentType := multipartRequest(t, map[string]string{"comment": "no budget"}, "", "", "", nil)
	w := s.do(t, http.MethodPatch, path+"/reject/", s.token(t, manager), body, contentType)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// A second decision on a processed request fails.
	body, contentType = multipartRequest(t, nil, "", "", "", nil)
	w = s.do(t, http.MethodPatch, path+"/approve/", s.token(t, manager), body, contentType)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEndpointPagination(t *testing.T) {
	s := newTestServer(t)
	staff := s.seedUser(t, model.RoleStaff)

	for i := 0; i < 12; i++ {
		_, err := s.requestSvc.Create(context.Background(), staff.ID.String(), service.CreateRequestDTO{
			Title:       fmt.Sprintf("Request %d", i),
			Description: "Bulk seeded",
			Amount:      "100.00",
			ProformaURL: "http://localhost/media/proforma/p.pdf",
		})
		require.NoError(t, err)
	}

	w := s.do(t, http.MethodGet, "/api/requests/", s.token(t, staff), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Count    int64             `json:"count"`
		Next     *string           `json:"next"`
		Previous *string           `json:"previous"`
		Results  []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &page))
	assert.EqualValues(t, 12, page.Count)
	assert.Len(t, page.Results, 10)
	assert.NotNil(t, page.Next)
	assert.Nil(t, page.Previous)

	w = s.do(t, http.MethodGet, "/api/requests/?page=2", s.token(t, staff), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &page))
	assert.Len(t, page.Results, 2)
	assert.Nil(t, page.Next)
	assert.NotNil(t, page.Previous)
}

func TestSummaryEndpoint(t *testing.T) {
	s := newTestServer(t)
	staff := s.seedUser(t, model.RoleStaff)
	s.createRequest(t, s.token(t, staff))

	w := s.do(t, http.MethodGet, "/api/requests/summary/", s.token(t, staff), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var counts map[string]int64
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &counts))
	assert.EqualValues(t, 1, counts[model.StatusPending])
}

func TestAuditLogEndpointRoleGate(t *testing.T) {
	s := newTestServer(t)
	staff := s.seedUser(t, model.RoleStaff)
	manager := s.seedUser(t, model.RoleManager)
	s.createRequest(t, s.token(t, staff))

	w := s.do(t, http.MethodGet, "/api/audit-logs/", s.token(t, staff), nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodGet, "/api/audit-logs/", s.token(t, manager), nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &page))
	assert.True(t, page.Total >= 1)
}
