package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
)

var _ repository.InvoiceRepository = (*InvoiceRepo)(nil)

// InvoiceRepo implementación de InvoiceRepository (usable con pool o tx).
// Alícuotas y comprobantes asociados viajan como jsonb.
type InvoiceRepo struct {
	q Querier
}

// NewInvoiceRepository construye el adaptador. Pasar pool o tx (Querier).
func NewInvoiceRepository(q Querier) *InvoiceRepo {
	return &InvoiceRepo{q: q}
}

const invoiceColumns = `
	id, business_id, COALESCE(sale_id::text, ''), channel, point_of_sale, cbte_tipo, number,
	concepto, doc_tipo, doc_nro, condicion_iva_receptor, issue_date, service_from, service_to, payment_due,
	currency, exchange_rate, net_amount, tax_amount, exempt_amount, non_taxed_amount, other_taxes_amount, total_amount,
	COALESCE(taxes, '[]'::jsonb), COALESCE(associated, '[]'::jsonb),
	fiscal_status, authority_status, cae, cae_expiry, processing_mode, observations, rejection_code,
	retry_count, next_retry_at, last_error, cancelled_by_id, created_at, updated_at`

// Create persiste el comprobante. Number = 0 se guarda como NULL (sin numerar).
func (r *InvoiceRepo) Create(ctx context.Context, inv *entity.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	now := time.Now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now
	if inv.Taxes == nil {
		inv.Taxes = []entity.InvoiceTax{}
	}
	if inv.Associated == nil {
		inv.Associated = []entity.AssociatedDocument{}
	}

	const q = `
		INSERT INTO invoices (
			id, business_id, sale_id, channel, point_of_sale, cbte_tipo, number,
			concepto, doc_tipo, doc_nro, condicion_iva_receptor, issue_date, service_from, service_to, payment_due,
			currency, exchange_rate, net_amount, tax_amount, exempt_amount, non_taxed_amount, other_taxes_amount, total_amount,
			taxes, associated, fiscal_status, authority_status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30)`
	_, err := r.q.Exec(ctx, q,
		inv.ID, inv.BusinessID, nullIfEmpty(inv.SaleID), inv.Channel, inv.PointOfSale, inv.CbteTipo, numberOrNull(inv.Number),
		inv.Concepto, inv.DocTipo, inv.DocNro, inv.CondicionIVAReceptor, inv.IssueDate, inv.ServiceFrom, inv.ServiceTo, inv.PaymentDue,
		inv.Currency, inv.ExchangeRate, inv.NetAmount, inv.TaxAmount, inv.ExemptAmount, inv.NonTaxedAmount, inv.OtherTaxesAmount, inv.TotalAmount,
		inv.Taxes, inv.Associated, inv.FiscalStatus, inv.AuthorityStatus, inv.RetryCount, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: número de comprobante ya usado", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

// GetByID devuelve nil, nil si no existe.
func (r *InvoiceRepo) GetByID(ctx context.Context, id string) (*entity.Invoice, error) {
	inv, err := scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// AssignNumber numera un comprobante que todavía no tiene CAE. El índice único
// (business_id, point_of_sale, cbte_tipo, number) es el respaldo contra duplicados.
func (r *InvoiceRepo) AssignNumber(ctx context.Context, id string, number int64) error {
	const q = `UPDATE invoices SET number = $2, updated_at = now() WHERE id = $1 AND cae IS NULL`
	tag, err := r.q.Exec(ctx, q, id, number)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: número %d ya asignado", domain.ErrDuplicate, number)
		}
		return fmt.Errorf("assign invoice number: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: comprobante %s inexistente o ya autorizado", domain.ErrConflict, id)
	}
	return nil
}

// UpdateFiscal persiste el resultado de AFIP y la contabilidad de reintentos.
func (r *InvoiceRepo) UpdateFiscal(ctx context.Context, inv *entity.Invoice) error {
	inv.UpdatedAt = time.Now()
	const q = `
		UPDATE invoices
		SET fiscal_status    = $2,
		    authority_status = $3,
		    cae              = $4,
		    cae_expiry       = $5,
		    processing_mode  = $6,
		    observations     = $7,
		    rejection_code   = $8,
		    retry_count      = $9,
		    next_retry_at    = $10,
		    last_error       = $11,
		    cancelled_by_id  = $12,
		    updated_at       = $13
		WHERE id = $1`
	tag, err := r.q.Exec(ctx, q,
		inv.ID, inv.FiscalStatus, inv.AuthorityStatus,
		nullIfEmpty(inv.CAE), inv.CAEExpiry, nullIfEmpty(inv.ProcessingMode),
		nullIfEmpty(inv.Observations), nullIfEmpty(inv.RejectionCode),
		inv.RetryCount, inv.NextRetryAt, nullIfEmpty(inv.LastError),
		nullIfEmpty(inv.CancelledByID), inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update invoice fiscal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: comprobante %s", domain.ErrNotFound, inv.ID)
	}
	return nil
}

// ReleaseNumber libera el número retenido por un pendiente sin pedido en vuelo.
func (r *InvoiceRepo) ReleaseNumber(ctx context.Context, businessID string, pointOfSale, cbteTipo int, number int64, exceptID string) (int64, error) {
	const q = `
		UPDATE invoices SET number = NULL, updated_at = now()
		WHERE business_id = $1 AND point_of_sale = $2 AND cbte_tipo = $3 AND number = $4
		  AND id <> $5
		  AND fiscal_status = $6
		  AND authority_status <> $7
		  AND cae IS NULL`
	tag, err := r.q.Exec(ctx, q, businessID, pointOfSale, cbteTipo, number, exceptID,
		entity.FiscalStatusPendingAuth, entity.AuthorityStatusSent)
	if err != nil {
		return 0, fmt.Errorf("release invoice number: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FindByNumber devuelve nil, nil si el número no está usado por un comprobante vigente.
func (r *InvoiceRepo) FindByNumber(ctx context.Context, businessID string, pointOfSale, cbteTipo int, number int64) (*entity.Invoice, error) {
	const where = ` FROM invoices
		WHERE business_id = $1 AND point_of_sale = $2 AND cbte_tipo = $3 AND number = $4
		  AND fiscal_status NOT IN ($5, $6)`
	inv, err := scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+where, businessID, pointOfSale, cbteTipo, number,
		entity.FiscalStatusRejected, entity.FiscalStatusVoided))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find invoice by number: %w", err)
	}
	return inv, nil
}

// FindCreditNoteFor busca por contención JSONB sobre associated.
func (r *InvoiceRepo) FindCreditNoteFor(ctx context.Context, businessID string, pointOfSale, cbteTipo int, number int64) (*entity.Invoice, error) {
	const where = ` FROM invoices
		WHERE business_id = $1
		  AND fiscal_status IN ($5, $6)
		  AND associated @> jsonb_build_array(jsonb_build_object(
		        'PointOfSale', $2::int, 'CbteTipo', $3::int, 'Number', $4::bigint))
		ORDER BY created_at
		LIMIT 1`
	inv, err := scanInvoice(r.q.QueryRow(ctx, `SELECT `+invoiceColumns+where, businessID, pointOfSale, cbteTipo, number,
		entity.FiscalStatusPendingAuth, entity.FiscalStatusAuthorized))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find credit note: %w", err)
	}
	return inv, nil
}

// ListRetryable pendientes de CAE listos para un nuevo intento.
func (r *InvoiceRepo) ListRetryable(ctx context.Context, now, olderThan time.Time, maxAttempts, limit int) ([]*entity.Invoice, error) {
	const where = `
		FROM invoices
		WHERE channel = $1
		  AND fiscal_status = $2
		  AND (next_retry_at IS NULL OR next_retry_at <= $3)
		  AND updated_at <= $4
		  AND (retry_count < $5 OR authority_status = $7)
		ORDER BY created_at
		LIMIT $6`
	rows, err := r.q.Query(ctx, `SELECT `+invoiceColumns+where,
		entity.ChannelFiscal, entity.FiscalStatusPendingAuth, now, olderThan, maxAttempts, limit, entity.AuthorityStatusSent)
	if err != nil {
		return nil, fmt.Errorf("list retryable invoices: %w", err)
	}
	defer rows.Close()
	var list []*entity.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// ── helpers ───────────────────────────────────────────────────────────────────

func numberOrNull(n int64) *int64 {
	if n <= 0 {
		return nil
	}
	return &n
}

func scanInvoice(row pgxScanner) (*entity.Invoice, error) {
	var inv entity.Invoice
	var number *int64
	var cae, mode, obs, rejCode, lastErr, cancelledBy *string
	err := row.Scan(
		&inv.ID, &inv.BusinessID, &inv.SaleID, &inv.Channel, &inv.PointOfSale, &inv.CbteTipo, &number,
		&inv.Concepto, &inv.DocTipo, &inv.DocNro, &inv.CondicionIVAReceptor, &inv.IssueDate, &inv.ServiceFrom, &inv.ServiceTo, &inv.PaymentDue,
		&inv.Currency, &inv.ExchangeRate, &inv.NetAmount, &inv.TaxAmount, &inv.ExemptAmount, &inv.NonTaxedAmount, &inv.OtherTaxesAmount, &inv.TotalAmount,
		&inv.Taxes, &inv.Associated,
		&inv.FiscalStatus, &inv.AuthorityStatus, &cae, &inv.CAEExpiry, &mode, &obs, &rejCode,
		&inv.RetryCount, &inv.NextRetryAt, &lastErr, &cancelledBy, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if number != nil {
		inv.Number = *number
	}
	inv.CAE = derefStr(cae)
	inv.ProcessingMode = derefStr(mode)
	inv.Observations = derefStr(obs)
	inv.RejectionCode = derefStr(rejCode)
	inv.LastError = derefStr(lastErr)
	inv.CancelledByID = derefStr(cancelledBy)
	return &inv, nil
}
