package billing

import (
	"context"
	"fmt"

	"github.com/abdullazmat/pos-sub003/internal/application/dto"
	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/fiscal"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
)

// ReceiptUseCase decide qué puede imprimirse para una venta.
type ReceiptUseCase struct {
	sales    repository.SaleRepository
	invoices repository.InvoiceRepository
}

// NewReceiptUseCase construye el caso de uso.
func NewReceiptUseCase(sales repository.SaleRepository, invoices repository.InvoiceRepository) *ReceiptUseCase {
	return &ReceiptUseCase{sales: sales, invoices: invoices}
}

// Decide devuelve la decisión de impresión de la venta. Si es BLOCK, devuelve además un
// error que envuelve domain.ErrFiscalBlocked (la decisión viene igual, para informar el motivo).
func (uc *ReceiptUseCase) Decide(ctx context.Context, businessID, saleID string) (*dto.ReceiptDecisionResponse, error) {
	sale, err := uc.sales.GetByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale == nil || sale.BusinessID != businessID {
		return nil, fmt.Errorf("%w: venta %s", domain.ErrNotFound, saleID)
	}

	var inv *entity.Invoice
	if sale.InvoiceID != "" {
		inv, err = uc.invoices.GetByID(ctx, sale.InvoiceID)
		if err != nil {
			return nil, err
		}
	}

	d := fiscal.Decide(inv, sale)
	out := &dto.ReceiptDecisionResponse{
		SaleID: sale.ID,
		Action: string(d.Action),
		Label:  d.Label,
		Status: d.Status,
		Reason: d.Reason,
	}
	if inv != nil {
		out.InvoiceID = inv.ID
		if d.Action == fiscal.ActionPrintFiscal {
			out.CAE = inv.CAE
			out.CAEExpiry = formatOptionalDate(inv.CAEExpiry)
		}
	}
	if !d.Printable() {
		return out, fmt.Errorf("%w: %s", domain.ErrFiscalBlocked, d.Reason)
	}
	return out, nil
}
