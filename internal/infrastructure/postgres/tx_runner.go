package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdullazmat/pos-sub003/internal/application/billing"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
)

// Ensure TxRunner implements billing.FiscalTxRunner.
var _ billing.FiscalTxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner construye el runner con el pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunFiscal inicia una transacción, ejecuta fn con el repo de comprobantes atado a la tx
// y hace Commit o Rollback. Se usa al cerrar una nota de crédito: la NC autorizada y la
// anulación del comprobante original se persisten juntas.
func (r *TxRunner) RunFiscal(ctx context.Context, fn func(invoiceRepo repository.InvoiceRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(NewInvoiceRepository(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
