package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campusattend/internal/identity"
	"campusattend/internal/model"
)

type registerRequest struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Year       string `json:"year"`
	Branch     string `json:"branch"`
	Department string `json:"department"`
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if !h.bind(c, &req) {
		return
	}
	id := req.ID
	if id == "" {
		id = req.UserID
	}
	u, err := h.Identity.Register(c.Request.Context(), identity.Registration{
		UserID:     id,
		Name:       req.Name,
		Role:       req.Role,
		Email:      req.Email,
		Password:   req.Password,
		Year:       req.Year,
		Branch:     req.Branch,
		Department: req.Department,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusCreated, gin.H{"message": "User registered successfully.", "data": profileView(u)})
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !h.bind(c, &req) {
		return
	}
	tok, u, err := h.Identity.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{
		"token":      tok.AccessToken,
		"expires_at": tok.ExpiresAt.Unix(),
		"role":       u.Role(),
		"user_id":    u.UserID,
	})
}

func (h *Handler) refresh(c *gin.Context) {
	tok, err := h.Identity.Refresh(c.Request.Context(), caller(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"token": tok.AccessToken, "expires_at": tok.ExpiresAt.Unix()})
}

func (h *Handler) forgotPassword(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !h.bind(c, &req) {
		return
	}
	token, err := h.Identity.ForgotPassword(c.Request.Context(), req.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{"message": "Password reset token generated successfully."}
	if h.ExposeResetToken {
		body["reset_token"] = token
	}
	success(c, http.StatusOK, body)
}

func (h *Handler) resetPassword(c *gin.Context) {
	var req struct {
		UserID      string `json:"user_id"`
		ResetToken  string `json:"reset_token"`
		NewPassword string `json:"new_password"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := h.Identity.ResetPassword(c.Request.Context(), req.UserID, req.ResetToken, req.NewPassword); err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"message": "Password reset successfully."})
}

func (h *Handler) changePassword(c *gin.Context) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := h.Identity.ChangePassword(c.Request.Context(), caller(c), req.OldPassword, req.NewPassword); err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"message": "Password changed successfully."})
}

type profileRequest struct {
	Name       *string `json:"name"`
	Email      *string `json:"email"`
	Year       *string `json:"year"`
	Branch     *string `json:"branch"`
	Department *string `json:"department"`
}

func (h *Handler) getProfile(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := h.Identity.Profile(c.Request.Context(), caller(c), role)
		if err != nil {
			h.fail(c, err)
			return
		}
		success(c, http.StatusOK, gin.H{"data": profileView(u)})
	}
}

func (h *Handler) updateProfile(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req profileRequest
		if !h.bind(c, &req) {
			return
		}
		u, err := h.Identity.UpdateProfile(c.Request.Context(), caller(c), role, identity.ProfileUpdate{
			Name:       req.Name,
			Email:      req.Email,
			Year:       req.Year,
			Branch:     req.Branch,
			Department: req.Department,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		success(c, http.StatusOK, gin.H{"message": "Profile updated successfully.", "data": profileView(u)})
	}
}
