package api

import (
	"net/http"

	"github.com/ignite/audience-crm/internal/auth"
	"github.com/ignite/audience-crm/internal/pkg/httputil"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup creates a local account.
//
//	POST /auth/signup
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var in auth.SignupInput
	if !httputil.Decode(w, r, &in) {
		return
	}

	u, err := h.auth.Signup(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.Created(w, httputil.Body{"message": "User created successfully", "user": u})
}

// Login exchanges email and password for a bearer token.
//
//	POST /auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	sess, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"user": sess.User, "token": sess.Token})
}

// GoogleLogin completes the Google sign-in code flow.
//
//	GET /auth/google?code=
func (h *Handlers) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	sess, err := h.auth.GoogleLogin(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"user": sess.User, "token": sess.Token})
}

// Logout revokes the caller's token.
//
//	POST /auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), auth.BearerToken(r)); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, httputil.Body{"message": "Logged out"})
}

// Authenticate returns the user behind the bearer token.
//
//	GET /auth/authenticate
func (h *Handlers) Authenticate(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, httputil.Body{"user": auth.UserFromContext(r.Context())})
}
