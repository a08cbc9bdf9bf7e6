package api

import (
	"errors"
	"manicure/lib/analysis"
	"manicure/lib/data"
	"manicure/lib/quota"
	"manicure/lib/workflow"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/sirupsen/logrus"
)

// DomainErrorResponse maps repository and workflow errors to API responses.
// Unknown errors are logged and reported as 500.
func DomainErrorResponse(err error, logger *logrus.Logger) events.APIGatewayProxyResponse {
	var (
		requestErr    *RequestError
		validationErr *workflow.ValidationError
		transitionErr *workflow.TransitionError
		exhaustedErr  *quota.ExhaustedError
		payloadErr    *analysis.PayloadError
	)

	switch {
	case errors.As(err, &requestErr):
		return ValidationErrorResponse("Invalid request", requestErr.Problems, logger)
	case errors.As(err, &validationErr):
		return errorBody(http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   true,
			"message": validationErr.Message,
			"field":   validationErr.Field,
			"status":  http.StatusUnprocessableEntity,
		}, logger)
	case errors.As(err, &transitionErr):
		return errorBody(http.StatusConflict, map[string]interface{}{
			"error":          true,
			"message":        transitionErr.Error(),
			"action":         transitionErr.Action,
			"current_status": transitionErr.Status,
			"status":         http.StatusConflict,
		}, logger)
	case errors.As(err, &exhaustedErr):
		return errorBody(http.StatusPaymentRequired, map[string]interface{}{
			"error":       true,
			"message":     "No analyses left for this salon",
			"quota_limit": exhaustedErr.Limit,
			"quota_used":  exhaustedErr.Used,
			"remaining":   exhaustedErr.Remaining(),
			"status":      http.StatusPaymentRequired,
		}, logger)
	case workflow.IsWorkflowReset(err):
		return errorBody(http.StatusNotFound, map[string]interface{}{
			"error":          true,
			"message":        "Task not found, start a new analysis",
			"workflow_reset": true,
			"status":         http.StatusNotFound,
		}, logger)
	case errors.Is(err, data.ErrMemberNotFound):
		return ErrorResponse(http.StatusNotFound, "Master not found", logger)
	case errors.Is(err, data.ErrOrganizationNotFound):
		return ErrorResponse(http.StatusNotFound, "Salon not found", logger)
	case errors.Is(err, workflow.ErrNotTaskOwner):
		return ErrorResponse(http.StatusForbidden, "Task belongs to another master", logger)
	case errors.Is(err, workflow.ErrTaskInProgress):
		return ErrorResponse(http.StatusConflict, "Finish or cancel the current task first", logger)
	case errors.Is(err, data.ErrDuplicateIdentity):
		return ErrorResponse(http.StatusConflict, "Master with this identity already exists", logger)
	case errors.As(err, &payloadErr):
		return ErrorResponse(http.StatusBadGateway, payloadErr.Error(), logger)
	}

	logger.WithError(err).Error("Unhandled error")
	return ErrorResponse(http.StatusInternalServerError, "Internal server error", logger)
}
