package repository

import (
	"context"

	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
)

// CertificateRepository persistencia del par certificado/llave de cada negocio.
type CertificateRepository interface {
	// Save guarda un par nuevo y lo deja como activo del negocio.
	Save(ctx context.Context, cert *entity.Certificate) error
	// GetActive devuelve el par vigente más reciente; nil, nil si no hay.
	GetActive(ctx context.Context, businessID string) (*entity.Certificate, error)
}
