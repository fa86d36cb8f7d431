package handler

// RESPONSE HELPERS:
// Every handler writes through a Responder so success and error bodies have
// one shape:
//
//	writeJSON  → status + JSON body
//	writeError → apperror sentinel → status, {"error": "..."}
//
// ERROR FORMAT:
//
//	{"error": "Username already taken"}
//	{"error": "Server error", "details": "..."}   ← details only outside production
//
// The frontend only ever reads "error", whatever the status.

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/sakif/mumbai-dao/internal/apperror"
	"github.com/sakif/mumbai-dao/internal/model"
)

// maxBodyBytes caps request bodies. Every request here is a few fields.
const maxBodyBytes = 64 << 10

// ErrorResponse is the error body returned by every endpoint.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Responder writes JSON responses and maps errors to HTTP statuses.
//
// exposeDetails adds the underlying cause of 500-class errors to the body.
// It is on in development and off in production.
type Responder struct {
	logger        *slog.Logger
	exposeDetails bool
	validate      *validator.Validate
}

func NewResponder(logger *slog.Logger, exposeDetails bool) *Responder {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names ("userId") rather than Go names ("UserID").
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Responder{logger: logger, exposeDetails: exposeDetails, validate: v}
}

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; anything after is ignored.
func (rs *Responder) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			rs.logger.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status and sends it.
//
// errors.Is walks the whole chain, so a service error like
// fmt.Errorf("service/auth: ...: %w", apperror.Conflict(...)) still maps
// to the conflict status.
func (rs *Responder) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	// Only client-facing categories put their message in "error"; internal
	// faults and unclassified errors read "Server error".
	var appErr *apperror.AppError
	msg := "Server error"
	if errors.As(err, &appErr) && !appErr.Internal() && status < http.StatusInternalServerError {
		msg = appErr.Message
	}

	body := ErrorResponse{Error: msg}
	if status >= http.StatusInternalServerError {
		rs.logger.Error("request failed",
			slog.String("requestID", chimw.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		if rs.exposeDetails {
			body.Details = err.Error()
		}
	}

	rs.writeJSON(w, status, body)
}

// statusFor maps the error taxonomy onto HTTP.
//
// Conflicts are 400, not 409: clients of this API treat every rejected
// input the same way and only show the message.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation),
		errors.Is(err, apperror.ErrConflict),
		errors.Is(err, apperror.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst and runs its validate tags.
func (rs *Responder) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ValidationFailed("body", "Request body is required")
		}
		return apperror.ValidationFailed("body", "Invalid JSON body")
	}

	if err := rs.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return validationError(verrs[0])
		}
		return apperror.ValidationFailed("body", "Invalid request")
	}
	return nil
}

// validationError turns the first failed rule into a client message.
func validationError(fe validator.FieldError) *apperror.AppError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return apperror.ValidationFailed(field, field+" is required")
	case "eth_addr":
		return apperror.ValidationFailed(field, "Invalid wallet address")
	case "max":
		return apperror.ValidationFailed(field, field+" is too long")
	default:
		return apperror.ValidationFailed(field, "Invalid "+field)
	}
}

// requestMeta extracts the caller's provenance for the audit log.
// RemoteAddr has already been rewritten from X-Forwarded-For / X-Real-IP
// when the request came through a trusted proxy.
func requestMeta(r *http.Request) model.RequestMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return model.RequestMeta{IPAddress: ip, UserAgent: r.UserAgent()}
}
