package repository

import (
	"context"

	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
)

// BusinessRepository define el puerto de persistencia para Business (DIP).
// La implementación vive en infrastructure.
type BusinessRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Business, error)
}

// PointOfSaleRepository puntos de venta habilitados por negocio.
type PointOfSaleRepository interface {
	// GetActive devuelve el punto de venta activo; nil, nil si no está habilitado.
	GetActive(ctx context.Context, businessID string, number int) (*entity.PointOfSale, error)
}
