package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abdullazmat/pos-sub003/internal/application/dto"
	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

// certExpiryWarning margen con el que se avisa que el certificado está por vencer.
const certExpiryWarning = 30 * 24 * time.Hour

// ClientInvalidator descarta el cliente AFIP cacheado de un negocio (ClientRegistry).
type ClientInvalidator interface {
	Invalidate(businessID string)
}

// CertificateUseCase alta y consulta del certificado AFIP de cada negocio.
type CertificateUseCase struct {
	certs      repository.CertificateRepository
	businesses repository.BusinessRepository
	clients    ClientInvalidator
	now        func() time.Time
	log        zerolog.Logger
}

// NewCertificateUseCase construye el caso de uso. clients puede ser nil.
func NewCertificateUseCase(certs repository.CertificateRepository, businesses repository.BusinessRepository, clients ClientInvalidator, log zerolog.Logger) *CertificateUseCase {
	return &CertificateUseCase{certs: certs, businesses: businesses, clients: clients, now: time.Now, log: log}
}

// Upload valida el par (llave que corresponde al certificado, vigencia y CUIT del negocio)
// y lo deja como activo. El ticket WSAA del certificado anterior se descarta.
func (uc *CertificateUseCase) Upload(ctx context.Context, businessID string, in dto.UploadCertificateRequest) (*dto.CertificateResponse, error) {
	if strings.TrimSpace(in.CertPEM) == "" || strings.TrimSpace(in.KeyPEM) == "" {
		return nil, fmt.Errorf("%w: se requieren cert_pem y key_pem", domain.ErrInvalidInput)
	}
	business, err := uc.businesses.GetByID(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if business == nil {
		return nil, fmt.Errorf("%w: negocio %s", domain.ErrNotFound, businessID)
	}

	pair, err := afip.LoadPair([]byte(in.CertPEM), []byte(in.KeyPEM))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	now := uc.now()
	if !pair.IsValidAt(now) {
		return nil, fmt.Errorf("%w: certificado fuera de vigencia (%s a %s)", domain.ErrInvalidInput,
			pair.NotBefore().Format(time.RFC3339), pair.NotAfter().Format(time.RFC3339))
	}
	if cuit := pair.CUIT(); cuit != "" && cuit != pkgafip.NormalizeCUIT(business.CUIT) {
		return nil, fmt.Errorf("%w: el certificado es del CUIT %s y el negocio %s", domain.ErrInvalidInput, cuit, business.CUIT)
	}

	cert := &entity.Certificate{
		ID:          uuid.New().String(),
		BusinessID:  businessID,
		CertPEM:     in.CertPEM,
		KeyPEM:      in.KeyPEM,
		Subject:     pair.Subject(),
		Serial:      pair.Serial(),
		Fingerprint: pair.Fingerprint(),
		NotBefore:   pair.NotBefore(),
		NotAfter:    pair.NotAfter(),
		CreatedAt:   now,
	}
	if err := uc.certs.Save(ctx, cert); err != nil {
		return nil, err
	}
	if uc.clients != nil {
		uc.clients.Invalidate(businessID)
	}
	uc.log.Info().Str("business_id", businessID).Str("fingerprint", cert.Fingerprint).Time("not_after", cert.NotAfter).
		Msg("billing: certificado AFIP registrado")
	return uc.toResponse(cert), nil
}

// Get metadatos del certificado activo; domain.ErrNoCertificate si no hay.
func (uc *CertificateUseCase) Get(ctx context.Context, businessID string) (*dto.CertificateResponse, error) {
	cert, err := uc.certs.GetActive(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, domain.ErrNoCertificate
	}
	return uc.toResponse(cert), nil
}

func (uc *CertificateUseCase) toResponse(c *entity.Certificate) *dto.CertificateResponse {
	return &dto.CertificateResponse{
		ID:          c.ID,
		Subject:     c.Subject,
		Serial:      c.Serial,
		Fingerprint: c.Fingerprint,
		NotBefore:   c.NotBefore,
		NotAfter:    c.NotAfter,
		ExpiresSoon: c.ExpiresWithin(uc.now(), certExpiryWarning),
	}
}
