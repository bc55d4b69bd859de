package handler

import (
	"errors"
	"net/http"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/adapter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/application"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/domain"
	"github.com/gin-gonic/gin"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   errorBody{Code: string(domain.ErrorCodeValidation), Message: message},
	})
}

// respondError writes err with the status its domain code maps to.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	code := domain.GetErrorCode(err)
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"success": false,
		"error":   errorBody{Code: string(code), Message: message},
	})
}

func statusFor(err error) int {
	var failure *application.ReconciliationFailure
	if errors.As(err, &failure) && failure.Err != nil {
		err = failure.Err
	}
	if apiErr, ok := adapter.AsPSPApiError(err); ok {
		return apiErr.HTTPStatus()
	}
	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeUnsupportedEvent, domain.ErrorCodeInvalidOperation, domain.ErrorCodeValidation:
		return http.StatusBadRequest
	case domain.ErrorCodeNotFound:
		return http.StatusNotFound
	case domain.ErrorCodeConflict, domain.ErrorCodeInvalidState:
		return http.StatusConflict
	case domain.ErrorCodeMissingLinkage:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
