package fake

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	authsession "github.com/Edgar-Rodriguez-APES/modulo-autenticacion-sub000"
)

// Handler serves the Server over HTTP using the REST auth API envelope, so
// authhttp.Client can be pointed at an httptest.Server backed by the fake.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req authsession.RegisterRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := s.Register(r.Context(), req)
		reply(w, http.StatusCreated, authBody(res), err)
	})

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds authsession.Credentials
		if !decode(w, r, &creds) {
			return
		}
		res, err := s.Login(r.Context(), creds)
		reply(w, http.StatusOK, authBody(res), err)
	})

	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if !decode(w, r, &body) {
			return
		}
		pair, err := s.Refresh(r.Context(), body.RefreshToken)
		reply(w, http.StatusOK, pair, err)
	})

	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if r.ContentLength != 0 && !decode(w, r, &body) {
			return
		}
		reply(w, http.StatusOK, nil, s.Logout(r.Context(), body.RefreshToken))
	})

	mux.HandleFunc("POST /auth/verify-email", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		if !decode(w, r, &body) {
			return
		}
		res, err := s.VerifyEmail(r.Context(), body.Token)
		reply(w, http.StatusOK, authBody(res), err)
	})

	mux.HandleFunc("POST /auth/forgot-password", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Email string `json:"email"`
		}
		if !decode(w, r, &body) {
			return
		}
		reply(w, http.StatusOK, nil, s.ForgotPassword(r.Context(), body.Email))
	})

	mux.HandleFunc("POST /auth/reset-password", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token       string `json:"token"`
			NewPassword string `json:"newPassword"`
		}
		if !decode(w, r, &body) {
			return
		}
		reply(w, http.StatusOK, nil, s.ResetPassword(r.Context(), body.Token, body.NewPassword))
	})

	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		u, err := s.Me(r.Context(), tok)
		reply(w, http.StatusOK, map[string]any{"user": u}, err)
	})

	return mux
}

// authBody flattens an AuthResult into the data payload the REST API sends.
func authBody(res *authsession.AuthResult) map[string]any {
	if res == nil {
		return nil
	}
	body := map[string]any{
		"user":                 res.User,
		"requiresVerification": res.RequiresVerification,
	}
	if res.Message != "" {
		body["message"] = res.Message
	}
	if res.Tokens != nil {
		body["accessToken"] = res.Tokens.AccessToken
		body["refreshToken"] = res.Tokens.RefreshToken
	}
	return body
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		reply(w, 0, nil, httpError(http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body"))
		return false
	}
	return true
}

func reply(w http.ResponseWriter, status int, data any, err error) {
	w.Header().Set("Content-Type", "application/json")

	if err != nil {
		herr := &authsession.HTTPError{Status: http.StatusInternalServerError, Message: err.Error()}
		errors.As(err, &herr)
		w.WriteHeader(herr.Status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   map[string]any{"code": herr.Code, "message": herr.Message, "details": herr.Details},
		})
		return
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}
