package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"procurement/internal/model"
	"procurement/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DTOs for Request validation

type RegisterUserRequest struct {
	Email             string
	Phone             string
	FirstName         string
	LastName          string
	Password          string
	ProfilePictureURL string
}

type LoginUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type VerifyAccountRequest struct {
	Email string `json:"email" binding:"required,email"`
	Token string `json:"token" binding:"required"`
}

type RefreshTokenRequest struct {
	Refresh string `json:"refresh" binding:"required"`
}

// TokenResponse is the login payload: both tokens plus the role string the
// client caches for UI gating
type TokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Role    string `json:"role"`
}

// RefreshResponse carries the replacement tokens
type RefreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// UserResponse returns User data without exposing sensitive fields
type UserResponse struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Role           string    `json:"role"`
	ProfilePicture string    `json:"profile_picture"`
	IsVerified     bool      `json:"is_verified"`
	CreatedAt      string    `json:"created_at"`
}

// ValidationError carries per-field messages up to the handler layer so they
// can be rendered in the response envelope's errors map
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	for _, msgs := range e.Fields {
		if len(msgs) > 0 {
			return msgs[0]
		}
	}
	return "validation failed"
}

// UserService defines the interface for business logic related to users and sessions
type UserService interface {
	Register(ctx context.Context, req RegisterUserRequest) (*UserResponse, error)
	Verify(ctx context.Context, req VerifyAccountRequest) error
	Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error)
	Refresh(ctx context.Context, req RefreshTokenRequest) (*RefreshResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	GetUserByID(ctx context.Context, id string) (*UserResponse, error)
}

type userService struct {
	repo   repository.UserRepository
	tokens repository.TokenRepository

	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	verifyTTL  time.Duration
}

// NewUserService returns a new instance of UserService
func NewUserService(repo repository.UserRepository, tokens repository.TokenRepository, secret []byte, accessTTL, refreshTTL, verifyTTL time.Duration) UserService {
	return &userService{
		repo:       repo,
		tokens:     tokens,
		secret:     secret,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		verifyTTL:  verifyTTL,
	}
}

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	upperRegex   = regexp.MustCompile(`[A-Z]`)
	lowerRegex   = regexp.MustCompile(`[a-z]`)
	digitRegex   = regexp.MustCompile(`\d`)
	specialRegex = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>/?]`)
)

// validatePassword enforces the account password policy: length, character
// classes, and no reuse of the user's own identifying details
func validatePassword(password string, req RegisterUserRequest) []string {
	var errs []string
	if len(password) < 8 {
		errs = append(errs, "Password must be at least 8 characters long")
	}
	if !upperRegex.MatchString(password) {
		errs = append(errs, "Password must contain at least 1 uppercase letter")
	}
	if !lowerRegex.MatchString(password) {
		errs = append(errs, "Password must contain at least 1 lowercase letter")
	}
	if !digitRegex.MatchString(password) {
		errs = append(errs, "Password must contain at least 1 digit")
	}
	if !specialRegex.MatchString(password) {
		errs = append(errs, "Password must contain at least 1 special character")
	}

	lowered := strings.ToLower(password)
	for _, field := range []string{req.Email, req.Phone, req.FirstName, req.LastName} {
		if field != "" && strings.Contains(lowered, strings.ToLower(field)) {
			errs = append(errs, "Password cannot contain your personal information")
			break
		}
	}

	return errs
}

// mapToResponse parses a model to the standard json API response
func mapToResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:             user.ID,
		Email:          user.Email,
		Phone:          user.Phone,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		Role:           user.Role,
		ProfilePicture: user.ProfilePicture,
		IsVerified:     user.IsVerified,
		CreatedAt:      user.CreatedAt.Format(time.RFC3339),
	}
}

func (s *userService) Register(ctx context.Context, req RegisterUserRequest) (*UserResponse, error) {
	fields := map[string][]string{}

	if !emailRegex.MatchString(req.Email) {
		fields["email"] = append(fields["email"], "Invalid email format")
	}
	if req.Phone == "" {
		fields["phone"] = append(fields["phone"], "Phone is required")
	}
	if req.FirstName == "" {
		fields["first_name"] = append(fields["first_name"], "First name is required")
	}
	if req.LastName == "" {
		fields["last_name"] = append(fields["last_name"], "Last name is required")
	}
	if pwErrs := validatePassword(req.Password, req); len(pwErrs) > 0 {
		fields["password"] = pwErrs
	}

	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		fields["email"] = append(fields["email"], "This field must be unique.")
	}
	if _, err := s.repo.GetByPhone(ctx, req.Phone); err == nil {
		fields["phone"] = append(fields["phone"], "This field must be unique.")
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.New("failed to hash password")
	}

	user := &model.User{
		Email:          req.Email,
		Phone:          req.Phone,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Password:       string(hashedPassword),
		Role:           model.RoleStaff, // New accounts start as staff; roles are assigned by operations
		ProfilePicture: req.ProfilePictureURL,
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	verification := &model.VerificationToken{
		UserID:    user.ID,
		Token:     uuid.NewString(),
		ExpiresAt: time.Now().Add(s.verifyTTL),
	}
	if err := s.tokens.SaveVerification(ctx, verification); err != nil {
		return nil, err
	}

	// Mail delivery is handled out of process; the token is logged so dev
	// environments can complete verification without a mail sink.
	log.Printf("verification token issued for %s: %s", user.Email, verification.Token)

	return mapToResponse(user), nil
}

func (s *userService) Verify(ctx context.Context, req VerifyAccountRequest) error {
	user, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		return errors.New("invalid email or token")
	}

	vt, err := s.tokens.GetVerification(ctx, user.ID, req.Token)
	if err != nil {
		return errors.New("invalid email or token")
	}

	user.IsVerified = true
	if err := s.repo.Update(ctx, user); err != nil {
		return err
	}

	return s.tokens.DeleteVerification(ctx, vt.ID)
}

func (s *userService) Login(ctx context.Context, req LoginUserRequest) (*TokenResponse, error) {
	user, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		return nil, errors.New("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, errors.New("invalid email or password")
	}

	if !user.IsVerified {
		return nil, errors.New("account is not verified; check your email for the verification token")
	}

	access, err := s.signAccessToken(user)
	if err != nil {
		return nil, errors.New("failed to generate token")
	}

	refresh, err := s.issueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, errors.New("failed to generate refresh token")
	}

	return &TokenResponse{Access: access, Refresh: refresh, Role: user.Role}, nil
}

func (s *userService) Refresh(ctx context.Context, req RefreshTokenRequest) (*RefreshResponse, error) {
	stored, err := s.tokens.GetRefresh(ctx, req.Refresh)
	if err != nil {
		return nil, errors.New("invalid or expired refresh token")
	}

	user, err := s.repo.GetByID(ctx, stored.UserID.String())
	if err != nil {
		return nil, errors.New("invalid or expired refresh token")
	}

	access, err := s.signAccessToken(user)
	if err != nil {
		return nil, errors.New("failed to generate token")
	}

	// Rotate: the presented refresh token is spent
	if err := s.tokens.DeleteRefresh(ctx, req.Refresh); err != nil {
		return nil, err
	}
	refresh, err := s.issueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, errors.New("failed to generate refresh token")
	}

	return &RefreshResponse{Access: access, Refresh: refresh}, nil
}

func (s *userService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.tokens.DeleteRefresh(ctx, refreshToken)
}

func (s *userService) GetUserByID(ctx context.Context, id string) (*UserResponse, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, errors.New("user not found")
	}
	return mapToResponse(user), nil
}

func (s *userService) signAccessToken(user *model.User) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"role": user.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(s.accessTTL).Unix(),
	})
	return token.SignedString(s.secret)
}

func (s *userService) issueRefreshToken(ctx context.Context, userID uuid.UUID) (string, error) {
	raw := fmt.Sprintf("%s.%s", uuid.NewString(), uuid.NewString())
	rt := &model.RefreshToken{
		UserID:    userID,
		Token:     raw,
		ExpiresAt: time.Now().Add(s.refreshTTL),
	}
	if err := s.tokens.SaveRefresh(ctx, rt); err != nil {
		return "", err
	}
	return raw, nil
}
