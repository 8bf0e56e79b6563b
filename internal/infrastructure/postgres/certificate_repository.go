package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
)

var _ repository.CertificateRepository = (*CertificateRepo)(nil)

// CertificateRepo guarda los pares certificado/llave de cada negocio. Nunca se
// actualiza un registro: una renovación inserta uno nuevo.
type CertificateRepo struct {
	pool *pgxpool.Pool
}

// NewCertificateRepository construye el repositorio.
func NewCertificateRepository(pool *pgxpool.Pool) *CertificateRepo {
	return &CertificateRepo{pool: pool}
}

func (r *CertificateRepo) Save(ctx context.Context, c *entity.Certificate) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	const q = `
		INSERT INTO afip_certificates
			(id, business_id, cert_pem, key_pem, subject, serial, fingerprint, not_before, not_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, q,
		c.ID, c.BusinessID, c.CertPEM, c.KeyPEM, c.Subject, c.Serial, c.Fingerprint,
		c.NotBefore, c.NotAfter, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: el certificado ya está cargado", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert afip_certificate: %w", err)
	}
	return nil
}

// GetActive el par más reciente que no venció.
func (r *CertificateRepo) GetActive(ctx context.Context, businessID string) (*entity.Certificate, error) {
	const q = `
		SELECT id, business_id, cert_pem, key_pem, subject, serial, fingerprint, not_before, not_after, created_at
		FROM afip_certificates
		WHERE business_id = $1
		  AND not_after > now()
		ORDER BY created_at DESC
		LIMIT 1`
	var c entity.Certificate
	err := r.pool.QueryRow(ctx, q, businessID).Scan(
		&c.ID, &c.BusinessID, &c.CertPEM, &c.KeyPEM, &c.Subject, &c.Serial, &c.Fingerprint,
		&c.NotBefore, &c.NotAfter, &c.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active afip_certificate: %w", err)
	}
	return &c, nil
}
