package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/proconfianza/server/internal/auth"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

const maxBodyBytes = 1 << 16

// errorResponse is the JSON body of every error.
type errorResponse struct {
	Error             string `json:"error"`
	Code              string `json:"code"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
}

// statusMap picks HTTP statuses per error kind. Routes differ on NotFound and Conflict.
type statusMap struct {
	notFound int
	conflict int
}

var (
	registrationStatus = statusMap{notFound: http.StatusBadRequest, conflict: http.StatusBadRequest}
	lookupStatus       = statusMap{notFound: http.StatusNotFound, conflict: http.StatusBadRequest}
	adminStatus        = statusMap{notFound: http.StatusNotFound, conflict: http.StatusConflict}
)

func (m statusMap) status(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation:
		return http.StatusBadRequest
	case auth.KindNotFound:
		return m.notFound
	case auth.KindConflict:
		return m.conflict
	case auth.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// decodeRequest reads a JSON body into dst and validates its tags.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return &auth.Error{Kind: auth.KindValidation, Code: auth.CodeInvalidRequest, Message: "invalid request body", Err: err}
	}
	if err := validate.Struct(dst); err != nil {
		return &auth.Error{Kind: auth.KindValidation, Code: auth.CodeInvalidRequest, Message: validationMessage(err), Err: err}
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			fields = append(fields, fmt.Sprintf("%s is required", fe.Field()))
		default:
			fields = append(fields, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(fields, ", ")
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message, code string) {
	respondJSON(w, statusCode, errorResponse{Error: message, Code: code})
}

// respondServiceError maps err to a status and body. Internal details are
// logged, never returned.
func respondServiceError(w http.ResponseWriter, log logrus.FieldLogger, m statusMap, err error) {
	status, body := errorBody(log, m, err)
	respondJSON(w, status, body)
}

func errorBody(log logrus.FieldLogger, m statusMap, err error) (int, errorResponse) {
	e := auth.AsError(err)
	status := m.status(e.Kind)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
		return status, errorResponse{Error: "internal server error", Code: auth.CodeInternal}
	}
	body := errorResponse{Error: e.Message, Code: e.Code}
	if e.Code == auth.CodeCodeMismatch {
		remaining := e.AttemptsRemaining
		body.AttemptsRemaining = &remaining
	}
	return status, body
}
