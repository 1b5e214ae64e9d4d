package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"eduportal.org/internal/auth"
	"eduportal.org/internal/obs"
)

type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	if status == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, envelope{
		Message:   msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
}

// writeAuthError is the only place auth error kinds become HTTP responses.
// Login failures for unknown, wrong-password and disabled accounts share
// one body.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	kind := auth.KindOf(err)
	status, msg := authStatus(kind)
	code := kind.String()
	switch kind {
	case auth.KindAccountDisabled:
		code = auth.KindInvalidCredentials.String()
	case auth.KindTokenMalformed, auth.KindTokenExpired, auth.KindSessionRevoked, auth.KindUserInactiveOrMissing:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	case auth.KindInternal:
		obs.Logger().Error("request failed",
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, r, status, code, msg)
}

func authStatus(kind auth.ErrorKind) (int, string) {
	switch kind {
	case auth.KindInvalidCredentials, auth.KindAccountDisabled:
		return http.StatusUnauthorized, "invalid credentials"
	case auth.KindNoToken:
		return http.StatusUnauthorized, "authentication required"
	case auth.KindTokenMalformed:
		return http.StatusUnauthorized, "invalid token"
	case auth.KindTokenExpired:
		return http.StatusUnauthorized, "token expired"
	case auth.KindUserInactiveOrMissing:
		return http.StatusUnauthorized, "user inactive or missing"
	case auth.KindSessionRevoked:
		return http.StatusUnauthorized, "session revoked"
	case auth.KindWrongTokenType:
		return http.StatusForbidden, "wrong token type"
	case auth.KindForbidden:
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		return fmt.Errorf("malformed JSON body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// bodyValidator reports field errors by their JSON names.
type bodyValidator struct {
	validate *validator.Validate
}

func newBodyValidator() *bodyValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return &bodyValidator{validate: v}
}

func (v *bodyValidator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" must be a valid email address")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed validation for %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
