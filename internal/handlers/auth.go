package handlers

import (
	"net/http"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/auth"
	"github.com/pliu/securedm/internal/models"
	"github.com/pliu/securedm/internal/verify"
	"go.uber.org/zap"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

// SessionResponse is returned by signup and login. PrivateKey is the sealed
// key blob; Passphrase is only sent once, at signup.
type SessionResponse struct {
	User        *models.User `json:"user"`
	AccessToken string       `json:"access_token"`
	PrivateKey  string       `json:"private_key"`
	Passphrase  string       `json:"passphrase,omitempty"`
}

type AuthHandler struct {
	Identities *auth.Service
	Verifier   *verify.Service
	Log        *zap.Logger
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}

	user, err := h.Identities.CreateIdentity(r.Context(), req.Email, req.Password, req.Phone)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	token, err := h.Identities.IssueSession(user)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	writeJSON(w, http.StatusCreated, SessionResponse{
		User:        user,
		AccessToken: token,
		PrivateKey:  user.EncryptedPrivateKey,
		Passphrase:  user.Salt,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if err := decodeJSON(r, &creds); err != nil {
		writeError(w, h.Log, err)
		return
	}

	user, err := h.Identities.VerifyCredentials(r.Context(), creds.Email, creds.Password)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	token, err := h.Identities.IssueSession(user)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		User:        user,
		AccessToken: token,
		PrivateKey:  user.EncryptedPrivateKey,
	})
}

func (h *AuthHandler) ValidateEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Identities.ValidateEmail(r.Context(), req.Email); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *AuthHandler) RequestPhoneCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if !auth.ValidPhone(req.Phone) {
		writeError(w, h.Log, apperr.InvalidInput("phone must be at least 7 digits"))
		return
	}
	if err := h.Verifier.Request(r.Context(), req.Phone); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"sent": true})
}

func (h *AuthHandler) VerifyPhoneCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := h.Verifier.Check(r.Context(), req.Phone, req.Code); err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}
