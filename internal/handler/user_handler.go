package handler

import (
	"errors"
	"net/http"

	"procurement/internal/middleware"
	"procurement/internal/model"
	"procurement/internal/service"
	"procurement/internal/storage"
	"procurement/pkg/response"

	"github.com/gin-gonic/gin"
)

type UserHandler struct {
	userService service.UserService
	store       storage.Store
}

// NewUserHandler sets up the routing dependencies for user/session endpoints
func NewUserHandler(userService service.UserService, store storage.Store) *UserHandler {
	return &UserHandler{userService: userService, store: store}
}

// RegisterRoutes binds the endpoints to the gin Engine or RouterGroup
func (h *UserHandler) RegisterRoutes(router *gin.RouterGroup) {
	user := router.Group("/user")
	{
		user.POST("/register/", h.Register)
		user.POST("/verify/", h.Verify)
		user.POST("/login/", h.Login)
		user.POST("/refresh/", h.RefreshToken)
		user.POST("/logout/", h.Logout)
		user.GET("/me/", middleware.RequireAuth(), h.GetMe)
	}
}

// Register handles POST /user/register/ with a multipart payload
// @Summary      Register a new user account
// @Description  Creates an unverified account and issues a verification token. Accepts an optional profile picture.
// @Tags         auth
// @Accept       multipart/form-data
// @Produce      json
// @Param        email            formData  string  true   "Email (unique)"
// @Param        phone            formData  string  true   "Phone (unique)"
// @Param        first_name       formData  string  true   "First name"
// @Param        last_name        formData  string  true   "Last name"
// @Param        password         formData  string  true   "Password"
// @Param        profile_picture  formData  file    false  "Profile picture (jpeg/png, max 5MB)"
// @Success      201  {object}  response.Envelope{data=service.UserResponse}
// @Failure      400  {object}  response.Envelope
// @Router       /user/register/ [post]
func (h *UserHandler) Register(c *gin.Context) {
	pictureURL, err := saveUpload(c, h.store, "profile_picture", "profile_pictures", false)
	if err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			c.JSON(http.StatusBadRequest, response.FieldError(ue.Field, ue.Message))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Error("Failed to store profile picture"))
		return
	}

	req := service.RegisterUserRequest{
		Email:             c.PostForm("email"),
		Phone:             c.PostForm("phone"),
		FirstName:         c.PostForm("first_name"),
		LastName:          c.PostForm("last_name"),
		Password:          c.PostForm("password"),
		ProfilePictureURL: pictureURL,
	}

	user, err := h.userService.Register(c.Request.Context(), req)
	if err != nil {
		discardUpload(c, h.store, pictureURL)
		var ve *service.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, response.ValidationError("Registration failed", ve.Fields))
			return
		}
		c.JSON(http.StatusBadRequest, response.Error(err.Error()))
		return
	}

	c.JSON(http.StatusCreated, response.Success("User registered successfully", user))
}

// Verify handles POST /user/verify/ consuming the emailed token
// @Summary      Verify a new account
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.VerifyAccountRequest  true  "Email and token"
// @Success      200      {object}  response.Envelope
// @Failure      400      {object}  response.Envelope
// @Router       /user/verify/ [post]
func (h *UserHandler) Verify(c *gin.Context) {
	var req service.VerifyAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error("Invalid request payload"))
		return
	}

	if err := h.userService.Verify(c.Request.Context(), req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success("Account verified successfully", nil))
}

// Login handles POST /user/login/ to authenticate and return the token pair
// @Summary      Login user
// @Description  Authenticates by email and password, returning access/refresh tokens and the account role
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.LoginUserRequest   true  "Login Credentials"
// @Success      200      {object}  response.Envelope{data=service.TokenResponse}
// @Failure      401      {object}  response.Envelope
// @Router       /user/login/ [post]
func (h *UserHandler) Login(c *gin.Context) {
	var req service.LoginUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error("Invalid request payload"))
		return
	}

	tokenRes, err := h.userService.Login(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, response.Error(err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success("Login successful", tokenRes))
}

// RefreshToken handles POST /user/refresh/ to issue a new access token
// @Summary      Refresh token
// @Description  Issues a new access token (and rotated refresh token) from a valid refresh token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.RefreshTokenRequest   true  "Refresh Token"
// @Success      200      {object}  response.Envelope{data=service.RefreshResponse}
// @Failure      401      {object}  response.Envelope
// @Router       /user/refresh/ [post]
func (h *UserHandler) RefreshToken(c *gin.Context) {
	var req service.RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error("Invalid request payload"))
		return
	}

	tokens, err := h.userService.Refresh(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, response.Error(err.Error()))
		return
	}

	c.JSON(http.StatusOK, response.Success("Token refreshed", tokens))
}

// Logout handles POST /user/logout/ revoking the presented refresh token
// @Summary      Logout
// @Tags         auth
// @Accept       json
// @Produce      json
// @Success      200  {object}  response.Envelope
// @Router       /user/logout/ [post]
func (h *UserHandler) Logout(c *gin.Context) {
	var req service.RefreshTokenRequest
	_ = c.ShouldBindJSON(&req) // missing body means nothing to revoke

	if err := h.userService.Logout(c.Request.Context(), req.Refresh); err != nil {
		c.JSON(http.StatusInternalServerError, response.Error("Failed to revoke session"))
		return
	}

	c.JSON(http.StatusOK, response.Success("Logged out", nil))
}

// GetMe handles GET /user/me/ returning the current authenticated user
// @Summary      Get current user
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Envelope{data=service.UserResponse}
// @Failure      401  {object}  response.Envelope
// @Router       /user/me/ [get]
func (h *UserHandler) GetMe(c *gin.Context) {
	userID := currentUserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, response.Error("User ID not found in context"))
		return
	}

	user, err := h.userService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusNotFound, response.Error("User not found"))
		return
	}

	c.JSON(http.StatusOK, response.Success("User retrieved", user))
}

// currentUserID reads the authenticated user id set by the auth middleware
func currentUserID(c *gin.Context) string {
	v, ok := c.Get("userID")
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

// currentUserRole reads the authenticated role set by the auth middleware
func currentUserRole(c *gin.Context) string {
	v, ok := c.Get("userRole")
	if !ok {
		return ""
	}
	role, _ := v.(string)
	if !model.ValidRole(role) {
		return ""
	}
	return role
}
