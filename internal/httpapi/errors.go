package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrEthical07/marketauth"
)

type errorBody struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

// classify maps engine errors to a status and a stable code. Order
// matters: the specific sentinels wrap the broader categories.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, marketauth.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, marketauth.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, marketauth.ErrRoleEscalation):
		return http.StatusForbidden, "role_escalation"
	case errors.Is(err, marketauth.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, marketauth.ErrOTPAttemptsExceeded):
		return http.StatusUnauthorized, "otp_attempts_exceeded"
	case errors.Is(err, marketauth.ErrInviteExpired):
		return http.StatusGone, "invite_expired"
	case errors.Is(err, marketauth.ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid_credential"
	case errors.Is(err, marketauth.ErrAccountSuspended):
		return http.StatusForbidden, "account_suspended"
	case errors.Is(err, marketauth.ErrAccountPending):
		return http.StatusForbidden, "account_pending"
	case errors.Is(err, marketauth.ErrAccountExists):
		return http.StatusConflict, "account_exists"
	case errors.Is(err, marketauth.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, marketauth.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, marketauth.ErrPasswordPolicy):
		return http.StatusUnprocessableEntity, "password_policy"
	case errors.Is(err, marketauth.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, marketauth.ErrStoreUnavailable),
		errors.Is(err, marketauth.ErrDeliveryUnavailable),
		errors.Is(err, marketauth.ErrEngineNotReady):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "marketauth: request failed", "op", op, "error", err)
	} else {
		a.logger.DebugContext(r.Context(), "marketauth: request refused", "op", op, "code", code)
	}

	body := errorBody{Error: code}
	var policy *marketauth.PolicyError
	if errors.As(err, &policy) {
		body.Violations = policy.Violations
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", "60")
	}
	writeJSON(w, status, body)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<16)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
