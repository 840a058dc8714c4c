package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignup(t *testing.T) {
	s := newTestServer(t)

	resp := s.signup(t, "alice@example.com", "5551234")
	assert.NotZero(t, resp.User.ID)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.PrivateKey)
	assert.NotEmpty(t, resp.Passphrase)
	assert.Contains(t, resp.User.PublicKey, "BEGIN PUBLIC KEY")

	// Test duplicate user
	rr := s.do(s.auth.Signup, jsonRequest("POST", "/signup", SignupRequest{Email: "alice@example.com", Password: "x", Phone: "5559999"}), "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSignupRejectsShortPhone(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(s.auth.Signup, jsonRequest("POST", "/signup", SignupRequest{Email: "a@example.com", Password: "pw", Phone: "123"}), "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(s.auth.Signup, jsonRequest("POST", "/signup", SignupRequest{Email: "a@example.com", Password: "pw", Phone: "1234567"}), "")
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestSignupResponseHidesSecrets(t *testing.T) {
	s := newTestServer(t)

	rr := s.do(s.auth.Signup, jsonRequest("POST", "/signup", SignupRequest{Email: "a@example.com", Password: "pw", Phone: "1234567"}), "")
	require.Equal(t, http.StatusCreated, rr.Code)
	body := rr.Body.String()
	assert.NotContains(t, body, "password_hash")
	assert.NotContains(t, body, "$2a$")
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	created := s.signup(t, "bob@example.com", "5551234")

	rr := s.do(s.auth.Login, jsonRequest("POST", "/login", Credentials{Email: "bob@example.com", Password: "password123"}), "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp SessionResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, created.User.ID, resp.User.ID)
	assert.Equal(t, created.PrivateKey, resp.PrivateKey)
	assert.Empty(t, resp.Passphrase)

	claims, err := s.sessions.Parse(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, created.Passphrase, claims.Passphrase)
}

func TestLoginFailuresLookTheSame(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "bob@example.com", "5551234")

	wrongPassword := s.do(s.auth.Login, jsonRequest("POST", "/login", Credentials{Email: "bob@example.com", Password: "nope"}), "")
	unknownUser := s.do(s.auth.Login, jsonRequest("POST", "/login", Credentials{Email: "eve@example.com", Password: "nope"}), "")

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownUser.Body.String())
}

func TestValidateEmail(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "taken@example.com", "5551234")

	rr := s.do(s.auth.ValidateEmail, jsonRequest("POST", "/validate-email", map[string]string{"email": "free@example.com"}), "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"valid":true}`, rr.Body.String())

	rr = s.do(s.auth.ValidateEmail, jsonRequest("POST", "/validate-email", map[string]string{"email": "taken@example.com"}), "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(s.auth.ValidateEmail, jsonRequest("POST", "/validate-email", map[string]string{"email": "bad"}), "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPhoneVerification(t *testing.T) {
	s := newTestServer(t)
	s.auth.Identities.Phones = s.auth.Verifier

	// Unverified phones cannot register.
	rr := s.do(s.auth.Signup, jsonRequest("POST", "/signup", SignupRequest{Email: "a@example.com", Password: "pw", Phone: "5551234"}), "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(s.auth.RequestPhoneCode, jsonRequest("POST", "/verify/phone", map[string]string{"phone": "12"}), "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(s.auth.RequestPhoneCode, jsonRequest("POST", "/verify/phone", map[string]string{"phone": "5551234"}), "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	code := s.sender.message[strings.LastIndex(s.sender.message, " ")+1:]

	rr = s.do(s.auth.VerifyPhoneCode, jsonRequest("POST", "/verify/code", map[string]string{"phone": "5551234", "code": "000000x"}), "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = s.do(s.auth.VerifyPhoneCode, jsonRequest("POST", "/verify/code", map[string]string{"phone": "5551234", "code": code}), "")
	require.Equal(t, http.StatusOK, rr.Code)

	s.signup(t, "a@example.com", "5551234")
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := jsonRequest("POST", "/login", nil)
	req.Body = http.NoBody
	rr := s.do(s.auth.Login, req, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
