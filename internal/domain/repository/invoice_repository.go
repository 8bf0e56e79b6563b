package repository

import (
	"context"
	"time"

	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
)

// InvoiceRepository define el puerto de persistencia para comprobantes electrónicos.
type InvoiceRepository interface {
	Create(ctx context.Context, invoice *entity.Invoice) error
	GetByID(ctx context.Context, id string) (*entity.Invoice, error)

	// AssignNumber fija el número de un comprobante sin CAE (también lo renumera si AFIP
	// nunca registró el anterior). Falla con domain.ErrDuplicate si el número ya está usado
	// en (negocio, punto de venta, tipo).
	AssignNumber(ctx context.Context, id string, number int64) error

	// UpdateFiscal persiste los campos fiscales: estados, CAE, vencimiento, observaciones,
	// contadores de reintento y anulación.
	UpdateFiscal(ctx context.Context, invoice *entity.Invoice) error

	// ReleaseNumber quita el número a otro comprobante de la serie que lo retiene sin CAE
	// y sin pedido en vuelo (PENDING_AUTH, AuthorityStatus distinto de SENT). Devuelve
	// cuántos liberó.
	ReleaseNumber(ctx context.Context, businessID string, pointOfSale, cbteTipo int, number int64, exceptID string) (int64, error)

	// FindByNumber busca un comprobante numerado vigente (ni REJECTED ni VOIDED); nil, nil si no existe.
	FindByNumber(ctx context.Context, businessID string, pointOfSale, cbteTipo int, number int64) (*entity.Invoice, error)

	// FindCreditNoteFor busca una nota de crédito PENDING_AUTH o AUTHORIZED que asocie el
	// comprobante indicado; nil, nil si no hay.
	FindCreditNoteFor(ctx context.Context, businessID string, pointOfSale, cbteTipo int, number int64) (*entity.Invoice, error)

	// ListRetryable devuelve comprobantes PENDING_AUTH con NextRetryAt vencido (o nulo)
	// y actualizados antes de olderThan, del más antiguo al más nuevo. maxAttempts no
	// aplica a los SENT: esos siguen hasta conciliarse.
	ListRetryable(ctx context.Context, now, olderThan time.Time, maxAttempts, limit int) ([]*entity.Invoice, error)
}
