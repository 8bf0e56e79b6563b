package repository

import (
	"context"

	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
)

// SaleRepository ventas del POS: lectura para la decisión de impresión y vínculo con su comprobante.
type SaleRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Sale, error)
	// LinkInvoice asocia el comprobante emitido a la venta.
	LinkInvoice(ctx context.Context, saleID, invoiceID string) error
}
