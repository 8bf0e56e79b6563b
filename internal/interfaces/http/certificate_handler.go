package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/abdullazmat/pos-sub003/internal/application/dto"
)

// CertificateService lo que el handler usa de billing.CertificateUseCase.
type CertificateService interface {
	Upload(ctx context.Context, businessID string, in dto.UploadCertificateRequest) (*dto.CertificateResponse, error)
	Get(ctx context.Context, businessID string) (*dto.CertificateResponse, error)
}

// CertificateHandler alta y consulta del certificado AFIP del negocio.
type CertificateHandler struct {
	uc CertificateService
}

// NewCertificateHandler construye el handler.
func NewCertificateHandler(uc CertificateService) *CertificateHandler {
	return &CertificateHandler{uc: uc}
}

// Upload valida y registra el par certificado/llave (PEM).
// POST /api/afip/certificate
func (h *CertificateHandler) Upload(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	var in dto.UploadCertificateRequest
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "cuerpo inválido")
	}
	out, err := h.uc.Upload(c.UserContext(), businessID, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// Get metadatos del certificado activo (nunca la llave).
// GET /api/afip/certificate
func (h *CertificateHandler) Get(c *fiber.Ctx) error {
	businessID := GetBusinessID(c)
	if businessID == "" {
		return unauthorized(c)
	}
	out, err := h.uc.Get(c.UserContext(), businessID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}
