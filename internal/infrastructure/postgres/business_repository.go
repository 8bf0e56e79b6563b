package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
)

// Asegura que BusinessRepo implementa repository.BusinessRepository.
var _ repository.BusinessRepository = (*BusinessRepo)(nil)

// BusinessRepo implementación del puerto BusinessRepository sobre PostgreSQL.
type BusinessRepo struct {
	pool *pgxpool.Pool
}

// NewBusinessRepository construye el adaptador de persistencia para negocios emisores.
func NewBusinessRepository(pool *pgxpool.Pool) *BusinessRepo {
	return &BusinessRepo{pool: pool}
}

// GetByID obtiene un negocio por ID.
func (r *BusinessRepo) GetByID(ctx context.Context, id string) (*entity.Business, error) {
	const q = `
		SELECT id, name, cuit, condicion_iva, default_point_of_sale, default_cbte_tipo, created_at, updated_at
		FROM businesses WHERE id = $1`
	var b entity.Business
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&b.ID, &b.Name, &b.CUIT, &b.CondicionIVA, &b.DefaultPointOfSale, &b.DefaultCbteTipo,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get business: %w", err)
	}
	return &b, nil
}

// ── Puntos de venta ───────────────────────────────────────────────────────────

var _ repository.PointOfSaleRepository = (*PointOfSaleRepo)(nil)

// PointOfSaleRepo puntos de venta habilitados en AFIP.
type PointOfSaleRepo struct {
	pool *pgxpool.Pool
}

// NewPointOfSaleRepository construye el repositorio.
func NewPointOfSaleRepository(pool *pgxpool.Pool) *PointOfSaleRepo {
	return &PointOfSaleRepo{pool: pool}
}

const posColumns = `id, business_id, number, emission_type, is_active, created_at, updated_at`

// GetActive devuelve nil, nil si el punto de venta no existe o está deshabilitado.
func (r *PointOfSaleRepo) GetActive(ctx context.Context, businessID string, number int) (*entity.PointOfSale, error) {
	const q = `SELECT ` + posColumns + ` FROM points_of_sale WHERE business_id = $1 AND number = $2 AND is_active = true`
	p, err := scanPointOfSale(r.pool.QueryRow(ctx, q, businessID, number))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active point_of_sale: %w", err)
	}
	return p, nil
}

func scanPointOfSale(row pgxScanner) (*entity.PointOfSale, error) {
	var p entity.PointOfSale
	if err := row.Scan(&p.ID, &p.BusinessID, &p.Number, &p.EmissionType, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
