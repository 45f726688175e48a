package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerCMS/internal/app/publish"
	"github.com/sifan077/PowerCMS/internal/app/repository"
	"github.com/sifan077/PowerCMS/internal/app/service"
	"github.com/sifan077/PowerCMS/internal/infra/storage"
	"go.uber.org/zap"
)

// Error codes returned in the error body.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeBadRequest     = "BAD_REQUEST"
	CodeConflict       = "CONFLICT"
	CodeInternalServer = "INTERNAL_SERVER_ERROR"
)

// ErrorInfo is the machine readable part of a failure response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorInfo `json:"error"`
}

// classify maps a domain error onto an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, repository.ErrRecordNotFound),
		errors.Is(err, service.ErrUnknownResource),
		errors.Is(err, service.ErrHistoryDisabled):
		return fiber.StatusNotFound, CodeNotFound
	case errors.Is(err, service.ErrValidation),
		errors.Is(err, publish.ErrInvalidWindow),
		errors.Is(err, storage.ErrUnsupportedType):
		return fiber.StatusBadRequest, CodeBadRequest
	case errors.Is(err, publish.ErrExpired):
		return fiber.StatusConflict, CodeConflict
	default:
		return fiber.StatusInternalServerError, CodeInternalServer
	}
}

func writeError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	status, code := classify(err)
	message := err.Error()
	if status == fiber.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		message = "internal server error"
	}
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorInfo{Code: code, Message: message},
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
		Error: ErrorInfo{Code: CodeBadRequest, Message: message},
	})
}
