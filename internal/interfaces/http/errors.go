package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/abdullazmat/pos-sub003/internal/application/dto"
	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
)

// respondError traduce errores de dominio y de AFIP a status HTTP.
func respondError(c *fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, afip.ErrCertificate):
		status, code = fiber.StatusBadRequest, "VALIDATION"
	case errors.Is(err, domain.ErrNotFound):
		status, code = fiber.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrForbidden):
		status, code = fiber.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrInvalidTransition):
		status, code = fiber.StatusConflict, "CONFLICT"
	case errors.Is(err, domain.ErrNoCertificate):
		status, code = fiber.StatusPreconditionFailed, "NO_CERTIFICATE"
	case errors.Is(err, afip.ErrTimeout):
		status, code = fiber.StatusGatewayTimeout, "AFIP_TIMEOUT"
	case errors.Is(err, afip.ErrAuthentication):
		status, code = fiber.StatusBadGateway, "AFIP_AUTH"
	case errors.Is(err, afip.ErrTransport):
		status, code = fiber.StatusBadGateway, "AFIP_UNAVAILABLE"
	}
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: err.Error()})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: message})
}
