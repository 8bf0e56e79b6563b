package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/abdullazmat/pos-sub003/internal/application/dto"
)

// InvoiceService lo que el handler usa de billing.InvoiceUseCase.
type InvoiceService interface {
	Create(ctx context.Context, businessID string, in dto.CreateInvoiceRequest) (*dto.FiscalStatusResponse, error)
	RequestAuthorization(ctx context.Context, businessID, invoiceID string) (*dto.FiscalStatusResponse, error)
	FiscalStatus(ctx context.Context, businessID, invoiceID string) (*dto.FiscalStatusResponse, error)
	CreditNote(ctx context.Context, businessID, invoiceID string, in dto.CreditNoteRequest) (*dto.FiscalStatusResponse, error)
	Void(ctx context.Context, businessID, invoiceID string) (*dto.FiscalStatusResponse, error)
}

// InvoiceHandler maneja las peticiones HTTP de comprobantes (protegido).
type InvoiceHandler struct {
	uc InvoiceService
}

// NewInvoiceHandler construye el handler.
func NewInvoiceHandler(uc InvoiceService) *InvoiceHandler {
	return &InvoiceHandler{uc: uc}
}

// Create crea el comprobante; si es fiscal, el CAE se pide en segundo plano.
// POST /api/invoices
func (h *InvoiceHandler) Create(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	var in dto.CreateInvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "cuerpo inválido")
	}
	out, err := h.uc.Create(c.UserContext(), businessID, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// Authorize vuelve a disparar el pedido de CAE. Responde 202 con el estado actual;
// el resultado se consulta en fiscal-status.
// POST /api/invoices/:id/authorize
func (h *InvoiceHandler) Authorize(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	out, err := h.uc.RequestAuthorization(c.UserContext(), businessID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(out)
}

// FiscalStatus endpoint de polling.
// GET /api/invoices/:id/fiscal-status
func (h *InvoiceHandler) FiscalStatus(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	out, err := h.uc.FiscalStatus(c.UserContext(), businessID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

// CreditNote anula el comprobante con una nota de crédito (CAE en segundo plano).
// POST /api/invoices/:id/credit-note
func (h *InvoiceHandler) CreditNote(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	var in dto.CreditNoteRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return badRequest(c, "cuerpo inválido")
		}
	}
	out, err := h.uc.CreditNote(c.UserContext(), businessID, c.Params("id"), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(out)
}

// Void anula un comprobante pendiente que nunca obtuvo CAE.
// POST /api/invoices/:id/void
func (h *InvoiceHandler) Void(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	out, err := h.uc.Void(c.UserContext(), businessID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}
