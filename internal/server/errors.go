package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/supportdesk/internal/audit/domain"
	"github.com/smallbiznis/supportdesk/internal/authorization"
	sldomain "github.com/smallbiznis/supportdesk/internal/servicelevel/domain"
	ticketdomain "github.com/smallbiznis/supportdesk/internal/ticket/domain"
	workentrydomain "github.com/smallbiznis/supportdesk/internal/workentry/domain"
	"github.com/smallbiznis/supportdesk/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
	ErrTooManyRequests    = errors.New("too_many_requests")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog feeds the request logger the same type the client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	var insufficient *workentrydomain.InsufficientVolumeError
	if errors.As(err, &insufficient) {
		return http.StatusConflict, errorPayload{
			Type:    "insufficient_volume",
			Message: "not enough included minutes remaining",
			Details: map[string]any{
				"available": insufficient.Available,
				"required":  insufficient.Required,
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ticketdomain.ErrTicketClosed):
		return http.StatusForbidden, errorPayload{
			Type:    "ticket_closed",
			Message: "ticket is closed",
		}
	case errors.Is(err, workentrydomain.ErrAlreadyBilled):
		return http.StatusConflict, errorPayload{
			Type:    "already_billed",
			Message: "work entry is already billed",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, db.ErrPersistence),
		errors.Is(err, sldomain.ErrVersionConflict),
		errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return true
	case isTicketValidationError(err),
		isWorkEntryValidationError(err),
		errors.Is(err, sldomain.ErrInvalidCompany),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isTicketValidationError(err error) bool {
	switch {
	case errors.Is(err, ticketdomain.ErrInvalidTicket),
		errors.Is(err, ticketdomain.ErrInvalidCompany),
		errors.Is(err, ticketdomain.ErrInvalidSubject),
		errors.Is(err, ticketdomain.ErrInvalidContent),
		errors.Is(err, ticketdomain.ErrInvalidStatus),
		errors.Is(err, ticketdomain.ErrInvalidPriority):
		return true
	default:
		return false
	}
}

func isWorkEntryValidationError(err error) bool {
	switch {
	case errors.Is(err, workentrydomain.ErrInvalidMinutes),
		errors.Is(err, workentrydomain.ErrInvalidDescription),
		errors.Is(err, workentrydomain.ErrInvalidHourlyRate),
		errors.Is(err, workentrydomain.ErrInvalidTicket),
		errors.Is(err, workentrydomain.ErrInvalidEntry),
		errors.Is(err, workentrydomain.ErrInvalidEntryIDs),
		errors.Is(err, workentrydomain.ErrInvalidCompany):
		return true
	default:
		return false
	}
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, ticketdomain.ErrForbidden),
		errors.Is(err, workentrydomain.ErrForbidden),
		errors.Is(err, sldomain.ErrForbidden):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ticketdomain.ErrTicketNotFound),
		errors.Is(err, workentrydomain.ErrNotFound),
		errors.Is(err, workentrydomain.ErrTicketNotFound),
		errors.Is(err, workentrydomain.ErrServiceLevelNotFound),
		errors.Is(err, sldomain.ErrServiceLevelNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	var code string
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		code = err.Error()
	}
	// Wrapped sentinels keep their code as the leading segment.
	if idx := strings.Index(code, ":"); idx > 0 {
		code = code[:idx]
	}
	return code
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_minutes":
		return "minutes must be greater than zero"
	case "invalid_hourly_rate":
		return "billable entries need a positive hourly rate with at most two decimals"
	default:
		return "invalid value"
	}
}
