package postgres

import (
	"context"
	"fmt"

	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
)

var _ repository.SaleRepository = (*SaleRepo)(nil)

// SaleRepo lectura de ventas del POS (la escritura vive fuera de este servicio).
type SaleRepo struct {
	q Querier
}

// NewSaleRepository construye el adaptador.
func NewSaleRepository(q Querier) *SaleRepo {
	return &SaleRepo{q: q}
}

// GetByID devuelve nil, nil si la venta no existe.
func (r *SaleRepo) GetByID(ctx context.Context, id string) (*entity.Sale, error) {
	const q = `
		SELECT id, business_id, COALESCE(invoice_id::text, ''), channel, total, created_at
		FROM sales WHERE id = $1`
	var s entity.Sale
	err := r.q.QueryRow(ctx, q, id).Scan(&s.ID, &s.BusinessID, &s.InvoiceID, &s.Channel, &s.Total, &s.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}
	return &s, nil
}

// LinkInvoice asocia el comprobante emitido a la venta. domain.ErrNotFound si la venta no existe.
func (r *SaleRepo) LinkInvoice(ctx context.Context, saleID, invoiceID string) error {
	const q = `UPDATE sales SET invoice_id = $2 WHERE id = $1`
	tag, err := r.q.Exec(ctx, q, saleID, invoiceID)
	if err != nil {
		return fmt.Errorf("link sale invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
