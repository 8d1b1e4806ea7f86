package service

import (
	"context"
	"testing"
	"time"

	"procurement/internal/model"
	"procurement/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestUserService(db *gorm.DB) UserService {
	return NewUserService(
		repository.NewUserRepository(db),
		repository.NewTokenRepository(db),
		[]byte("test-secret"),
		15*time.Minute,
		7*24*time.Hour,
		48*time.Hour,
	)
}

func validRegistration() RegisterUserRequest {
	return RegisterUserRequest{
		Email:     "jane.doe@example.com",
		Phone:     "0712345678",
		FirstName: "Jane",
		LastName:  "Doe",
		Password:  "Str0ng!Passw0rd",
	}
}

// registerAndVerify walks the full signup path and returns the stored user.
func registerAndVerify(t *testing.T, db *gorm.DB, svc UserService) *model.User {
	t.Helper()
	created, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)

	var vt model.VerificationToken
	require.NoError(t, db.First(&vt, "user_id = ?", created.ID).Error)
	require.NoError(t, svc.Verify(context.Background(), VerifyAccountRequest{
		Email: created.Email,
		Token: vt.Token,
	}))

	var user model.User
	require.NoError(t, db.First(&user, "id = ?", created.ID).Error)
	return &user
}

func TestRegister(t *testing.T) {
	db := newTestDB(t)
	svc := newTestUserService(db)

	created, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, created.Role)
	assert.False(t, created.IsVerified)

	// A verification token is issued alongside the account.
	var tokenCount int64
	db.Model(&model.VerificationToken{}).Where("user_id = ?", created.ID).Count(&tokenCount)
	assert.EqualValues(t, 1, tokenCount)
}

func TestRegisterPasswordPolicy(t *testing.T) {
	db := newTestDB(t)
	svc := newTestUserService(db)

	cases := []struct {
		name     string
		password string
	}{
		{"too short", "S1!a"},
		{"no uppercase", "str0ng!password"},
		{"no digit", "Strong!Password"},
		{"no special", "Str0ngPassword"},
		{"contains own name", "Jane1234!x"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRegistration()
			req.Password = tc.password
			_, err := svc.Register(context.Background(), req)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.Fields, "password")
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	svc := newTestUserService(db)

	_, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)

	dup := validRegistration()
	dup.Phone = "0799999999"
	_, err = svc.Register(context.Background(), dup)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields["email"], "This field must be unique.")
}

func TestLoginRequiresVerification(t *testing.T) {
	db := newTestDB(t)
	svc := newTestUserService(db)

	_, err := svc.Register(context.Background(), validRegistration())
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), LoginUserRequest{
		Email:    "jane.doe@example.com",
		Password: "Str0ng!Passw0rd",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not verified")
}

func TestLoginIssuesTokenPair(t *testing.T) {
	db := newTestDB(t)
	svc := newTestUserService(db)
	user := registerAndVerify(t, db, svc)

	tokens, err := svc.Login(context.Background(), LoginUserRequest{
		Email:    user.Email,
		Password: "Str0ng!Passw0rd",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RoleStaff, tokens.Role)
	assert.NotEmpty(t, tokens.Refresh)

	// The access token carries the subject and role claims.
	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(tokens.Access, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims["sub"])
	assert.Equal(t, model.RoleStaff, claims["role"])

	_, err = svc.Login(context.Background(), LoginUserRequest{
		Email:    user.Email,
		Password: "wrong-password",
	})
	assert.Error(t, err)
}

func TestRefreshRotatesToken(t *testing.T) {
	db := newTestDB(t)
	svc := newTestUserService(db)
	user := registerAndVerify(t, db, svc)

	tokens, err := svc.Login(context.Background(), LoginUserRequest{
		Email:    user.Email,
		Password: "Str0ng!Passw0rd",
	})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), RefreshTokenRequest{Refresh: tokens.Refresh})
	require.NoError(t, err)
	assert.NotEqual(t, tokens.Refresh, refreshed.Refresh)
	assert.NotEmpty(t, refreshed.Access)

	// The presented token is spent on rotation.
	_, err = svc.Refresh(context.Background(), RefreshTokenRequest{Refresh: tokens.Refresh})
	assert.Error(t, err)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	db := newTestDB(t)
	svc := newTestUserService(db)
	user := registerAndVerify(t, db, svc)

	tokens, err := svc.Login(context.Background(), LoginUserRequest{
		Email:    user.Email,
		Password: "Str0ng!Passw0rd",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), tokens.Refresh))
	_, err = svc.Refresh(context.Background(), RefreshTokenRequest{Refresh: tokens.Refresh})
	assert.Error(t, err)
}
