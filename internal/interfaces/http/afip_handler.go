package http

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/abdullazmat/pos-sub003/internal/application/dto"
)

// AFIPService lo que el handler usa de billing.AFIPUseCase.
type AFIPService interface {
	LastNumber(ctx context.Context, businessID string, pointOfSale, cbteTipo int) (*dto.LastNumberResponse, error)
	QueryStatus(ctx context.Context, businessID string, pointOfSale, cbteTipo int, number int64) (*dto.AuthorityInvoiceResponse, error)
	ServerStatus(ctx context.Context, businessID string) (*dto.ServerStatusResponse, error)
}

// AFIPHandler consultas directas a WSFEv1 (soporte y diagnóstico).
type AFIPHandler struct {
	uc AFIPService
}

// NewAFIPHandler construye el handler.
func NewAFIPHandler(uc AFIPService) *AFIPHandler {
	return &AFIPHandler{uc: uc}
}

// LastNumber último número autorizado.
// GET /api/afip/last-number?pos=1&type=6
func (h *AFIPHandler) LastNumber(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	pos, errPos := strconv.Atoi(c.Query("pos"))
	tipo, errTipo := strconv.Atoi(c.Query("type"))
	if errPos != nil || errTipo != nil {
		return badRequest(c, "pos y type deben ser numéricos")
	}
	out, err := h.uc.LastNumber(c.UserContext(), businessID, pos, tipo)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// Invoice estado de un comprobante en AFIP (FECompConsultar). 404 si AFIP no lo tiene.
// GET /api/afip/invoices/:pos/:type/:number
func (h *AFIPHandler) Invoice(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	pos, errPos := c.ParamsInt("pos")
	tipo, errTipo := c.ParamsInt("type")
	number, errNum := strconv.ParseInt(c.Params("number"), 10, 64)
	if errPos != nil || errTipo != nil || errNum != nil {
		return badRequest(c, "pos, type y number deben ser numéricos")
	}
	out, err := h.uc.QueryStatus(c.UserContext(), businessID, pos, tipo, number)
	if err != nil {
		return respondError(c, err)
	}
	if !out.Found {
		return c.Status(fiber.StatusNotFound).JSON(out)
	}
	return c.JSON(out)
}

// Status FEDummy.
// GET /api/afip/status
func (h *AFIPHandler) Status(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	out, err := h.uc.ServerStatus(c.UserContext(), businessID)
	if err != nil {
		return respondError(c, err)
	}
	if !out.OK {
		return c.Status(fiber.StatusServiceUnavailable).JSON(out)
	}
	return c.JSON(out)
}
