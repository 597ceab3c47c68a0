package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/marketauth"
	"github.com/MrEthical07/marketauth/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpStartRequest struct {
	Email string `json:"email"`
}

type otpStartResponse struct {
	OTPID string `json:"otp_id"`
}

type otpCompleteRequest struct {
	OTPID string `json:"otp_id"`
	Code  string `json:"code"`
}

type mfaResponse struct {
	MFARequired bool   `json:"mfa_required"`
	OTPID       string `json:"otp_id"`
}

// sessionResponse carries the session credential for clients that cannot
// use cookies. The refresh credential only travels in its cookie.
type sessionResponse struct {
	SessionToken     string    `json:"session_token"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type inviteRequest struct {
	Email      string   `json:"email"`
	Name       string   `json:"name"`
	Roles      []string `json:"roles"`
	BusinessID string   `json:"business_id,omitempty"`
}

type inviteResponse struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

type acceptInviteRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type meResponse struct {
	UserID     string   `json:"user_id"`
	Email      string   `json:"email"`
	Roles      []string `json:"roles"`
	BusinessID string   `json:"business_id"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	res, err := a.engine.LoginWithPassword(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		a.fail(w, r, "login", err)
		return
	}
	if res.MFARequired {
		writeJSON(w, http.StatusAccepted, mfaResponse{MFARequired: true, OTPID: res.OTPID})
		return
	}
	a.writeSession(w, res.Tokens)
}

func (a *API) handleOTPStart(w http.ResponseWriter, r *http.Request) {
	var req otpStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	id, err := a.engine.StartOTPLogin(r.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		a.fail(w, r, "otp_start", err)
		return
	}
	writeJSON(w, http.StatusAccepted, otpStartResponse{OTPID: id})
}

func (a *API) handleOTPComplete(w http.ResponseWriter, r *http.Request) {
	var req otpCompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	pair, err := a.engine.CompleteOTPLogin(r.Context(), req.OTPID, strings.TrimSpace(req.Code))
	if err != nil {
		a.fail(w, r, "otp_complete", err)
		return
	}
	a.writeSession(w, pair)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	credential := session.RefreshFromRequest(r, a.engine.CookieConfig())
	if credential == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	pair, err := a.engine.RefreshSession(r.Context(), credential)
	if err != nil {
		session.ClearCookies(w, a.engine.CookieConfig())
		a.fail(w, r, "refresh", err)
		return
	}
	a.writeSession(w, pair)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth, _ := marketauth.AuthFromContext(r.Context())
	if err := a.engine.Logout(r.Context(), auth); err != nil {
		a.fail(w, r, "logout", err)
		return
	}
	session.ClearCookies(w, a.engine.CookieConfig())
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	auth, _ := marketauth.AuthFromContext(r.Context())
	writeJSON(w, http.StatusOK, meResponse{
		UserID:     auth.UserID(),
		Email:      auth.Email(),
		Roles:      auth.Roles(),
		BusinessID: auth.BusinessID(),
	})
}

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	auth, _ := marketauth.AuthFromContext(r.Context())
	link, err := a.engine.InviteUser(r.Context(), auth, marketauth.InviteRequest{
		Email:      strings.TrimSpace(req.Email),
		Name:       strings.TrimSpace(req.Name),
		Roles:      req.Roles,
		BusinessID: req.BusinessID,
	})
	if err != nil {
		a.fail(w, r, "invite", err)
		return
	}
	// The link itself only goes to the invitee's mailbox.
	writeJSON(w, http.StatusCreated, inviteResponse{
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		ExpiresAt: link.ExpiresAt,
	})
}

func (a *API) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req acceptInviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	pair, err := a.engine.AcceptInvite(r.Context(), req.Token, req.Password)
	if err != nil {
		a.fail(w, r, "accept_invite", err)
		return
	}
	a.writeSession(w, pair)
}

func (a *API) handleSuspend(w http.ResponseWriter, r *http.Request) {
	auth, _ := marketauth.AuthFromContext(r.Context())
	if err := a.engine.SuspendUser(r.Context(), auth, r.PathValue("id")); err != nil {
		a.fail(w, r, "suspend", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReactivate(w http.ResponseWriter, r *http.Request) {
	auth, _ := marketauth.AuthFromContext(r.Context())
	if err := a.engine.ReactivateUser(r.Context(), auth, r.PathValue("id")); err != nil {
		a.fail(w, r, "reactivate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeSession(w http.ResponseWriter, pair marketauth.TokenPair) {
	session.SetCookies(w, a.engine.CookieConfig(),
		pair.SessionToken, pair.SessionExpiresAt,
		pair.RefreshToken, pair.RefreshExpiresAt,
	)
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionToken:     pair.SessionToken,
		SessionExpiresAt: pair.SessionExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	})
}
