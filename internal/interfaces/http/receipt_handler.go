package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/abdullazmat/pos-sub003/internal/application/dto"
	"github.com/abdullazmat/pos-sub003/internal/domain"
)

// ReceiptService lo que el handler usa de billing.ReceiptUseCase.
type ReceiptService interface {
	Decide(ctx context.Context, businessID, saleID string) (*dto.ReceiptDecisionResponse, error)
}

// ReceiptHandler decisión de impresión del POS.
type ReceiptHandler struct {
	uc ReceiptService
}

// NewReceiptHandler construye el handler.
func NewReceiptHandler(uc ReceiptService) *ReceiptHandler {
	return &ReceiptHandler{uc: uc}
}

// Receipt responde 200 con la decisión si algo puede imprimirse; 409 FISCAL_BLOCKED si no.
// GET /api/sales/:id/receipt
func (h *ReceiptHandler) Receipt(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	out, err := h.uc.Decide(c.UserContext(), businessID, c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrFiscalBlocked) && out != nil {
			return c.Status(fiber.StatusConflict).JSON(dto.FiscalBlockedResponse{
				Code:   "FISCAL_BLOCKED",
				Status: out.Status,
				Reason: out.Reason,
			})
		}
		return respondError(c, err)
	}
	return c.JSON(out)
}
