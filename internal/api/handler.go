// Package api provides HTTP handlers for the test case API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ashureev/testcraft/internal/abuse"
	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/domain"
)

const maxJSONBody = 2 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorBody{Error: message})
}

// SuccessBody is the envelope of every successful flow response.
type SuccessBody struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Success writes a 200 success envelope.
func Success(w http.ResponseWriter, data interface{}, message string) {
	JSON(w, http.StatusOK, SuccessBody{Success: true, Data: data, Message: message})
}

// ErrorBody is the envelope of every failed response.
type ErrorBody struct {
	Error     string     `json:"error"`
	Details   string     `json:"details,omitempty"`
	Type      string     `json:"type,omitempty"`
	BlockInfo *BlockInfo `json:"blockInfo,omitempty"`
}

// BlockInfo describes an active block to the client.
type BlockInfo struct {
	IsBlocked      bool       `json:"isBlocked"`
	RemainingTime  int64      `json:"remainingTime"`
	BlockExpiresAt *time.Time `json:"blockExpiresAt,omitempty"`
	ViolationCount int        `json:"violationCount"`
}

func newBlockInfo(s domain.BlockStatus) *BlockInfo {
	return &BlockInfo{
		IsBlocked:      s.IsBlocked,
		RemainingTime:  s.RemainingMillis(),
		BlockExpiresAt: s.BlockExpiresAt,
		ViolationCount: s.ViolationCount,
	}
}

// StatusForKind maps a failure kind to its HTTP status.
func StatusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindLanguage, apperr.KindHarmfulContent, apperr.KindInvalidIntent:
		return http.StatusBadRequest
	case apperr.KindUserBlocked:
		return http.StatusForbidden
	case apperr.KindGeneration:
		return http.StatusInternalServerError
	case apperr.KindProvider:
		return http.StatusBadGateway
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorCopy overrides the user-facing title and details for some kinds.
type errorCopy map[apperr.Kind][2]string

// errorBodyFor builds the response body and status for a flow error.
func errorBodyFor(err error, texts errorCopy) (int, ErrorBody) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, ErrorBody{Error: "Internal server error"}
	}

	body := ErrorBody{Error: kind.Title(), Type: string(kind)}
	var tagged *apperr.Error
	if errors.As(err, &tagged) && !kind.IsPolicy() {
		body.Details = tagged.Detail
	} else {
		body.Details = kind.Message()
	}
	if c, ok := texts[kind]; ok {
		body.Error, body.Details = c[0], c[1]
	}

	var blocked *abuse.BlockedError
	if kind == apperr.KindUserBlocked && errors.As(err, &blocked) {
		body.BlockInfo = newBlockInfo(blocked.Status)
	}
	return StatusForKind(kind), body
}

// writeFlowError writes err using the kind taxonomy.
func writeFlowError(w http.ResponseWriter, logger *slog.Logger, err error, texts errorCopy) {
	status, body := errorBodyFor(err, texts)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "type", body.Type, "error", err)
	}
	JSON(w, status, body)
}

// writeBlocked writes a 403 USER_BLOCKED response.
func writeBlocked(w http.ResponseWriter, status domain.BlockStatus) {
	JSON(w, http.StatusForbidden, ErrorBody{
		Error: apperr.KindUserBlocked.Title(),
		Details: fmt.Sprintf("%s Block expires in %d hours.",
			apperr.KindUserBlocked.Message(), status.RemainingHours()),
		Type:      string(apperr.KindUserBlocked),
		BlockInfo: newBlockInfo(status),
	})
}

// decodeJSON reads a bounded JSON body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return validateStruct(v)
}

func validateStruct(v interface{}) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return fmt.Errorf("missing or invalid fields: %s", strings.Join(fields, ", "))
		}
		return err
	}
	return nil
}
