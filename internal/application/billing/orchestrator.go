package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/fiscal"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

// DefaultAuthorizeTimeout plazo total de un intento en segundo plano: login, último
// número, consulta y CAE a 15 s cada uno.
const DefaultAuthorizeTimeout = 60 * time.Second

const maxLastError = 500

// OrchestratorConfig parámetros opcionales del orquestador.
type OrchestratorConfig struct {
	Timeout  time.Duration                   // 0 = DefaultAuthorizeTimeout
	Schedule func(attempt int) time.Duration // nil = RetryDelay
	Now      func() time.Time
}

// Orchestrator lleva un comprobante fiscal de PENDING_AUTH a AUTHORIZED o REJECTED:
//
//	guardia de idempotencia → lock de la serie → conciliación → último + 1 → CAE → DB
//
// Authorize es idempotente: un comprobante con CAE nunca vuelve a pedirse, y uno con
// número asignado se consulta en AFIP antes de pedirlo de nuevo.
type Orchestrator struct {
	invoices repository.InvoiceRepository
	points   repository.PointOfSaleRepository
	clients  ClientProvider
	tx       FiscalTxRunner // nil = sin transacción (tests)
	locks    *SequenceLocks
	cfg      OrchestratorConfig
	log      zerolog.Logger
	wg       sync.WaitGroup
}

// NewOrchestrator construye el orquestador. locks puede compartirse entre instancias del proceso.
func NewOrchestrator(
	invoices repository.InvoiceRepository,
	points repository.PointOfSaleRepository,
	clients ClientProvider,
	tx FiscalTxRunner,
	locks *SequenceLocks,
	cfg OrchestratorConfig,
	log zerolog.Logger,
) *Orchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAuthorizeTimeout
	}
	if cfg.Schedule == nil {
		cfg.Schedule = RetryDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if locks == nil {
		locks = NewSequenceLocks()
	}
	return &Orchestrator{
		invoices: invoices,
		points:   points,
		clients:  clients,
		tx:       tx,
		locks:    locks,
		cfg:      cfg,
		log:      log,
	}
}

// ProcessAsync dispara Authorize en una goroutine con su propio contexto, desacoplada
// del request HTTP.
func (o *Orchestrator) ProcessAsync(invoiceID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Timeout)
		defer cancel()
		if _, err := o.Authorize(ctx, invoiceID); err != nil {
			o.log.Warn().Err(err).Str("invoice_id", invoiceID).Msg("billing: comprobante sin CAE, queda para reintento")
		}
	}()
}

// Wait espera a que terminen los ProcessAsync en curso (apagado ordenado).
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Authorize procesa el comprobante de forma síncrona. Devuelve el comprobante con su
// estado final; error si quedó pendiente (timeout, transporte, autenticación) o si
// los datos son inválidos. Un rechazo de AFIP no es error.
func (o *Orchestrator) Authorize(ctx context.Context, invoiceID string) (*entity.Invoice, error) {
	inv, err := o.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: comprobante %s", domain.ErrNotFound, invoiceID)
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 0. Guardia de idempotencia y validación local (sin red)
	// ═══════════════════════════════════════════════════════════════════════════
	if !inv.IsFiscal() {
		return inv, fmt.Errorf("%w: el comprobante no es fiscal", domain.ErrInvalidInput)
	}
	if settled(inv) {
		return inv, nil
	}
	if err := fiscal.ValidateInvoice(inv); err != nil {
		return o.fail(ctx, inv, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err))
	}
	if inv.FiscalStatus == "" {
		if err := fiscal.Transition(inv, entity.FiscalStatusPendingAuth); err != nil {
			return inv, err
		}
		inv.AuthorityStatus = entity.AuthorityStatusPending
		if err := o.invoices.UpdateFiscal(ctx, inv); err != nil {
			return inv, err
		}
	}

	pos, err := o.points.GetActive(ctx, inv.BusinessID, inv.PointOfSale)
	if err != nil {
		return inv, err
	}
	if pos == nil {
		return o.fail(ctx, inv, fmt.Errorf("%w: punto de venta %d no habilitado", domain.ErrInvalidInput, inv.PointOfSale))
	}
	client, err := o.clients.ClientFor(ctx, inv.BusinessID)
	if err != nil {
		return o.fail(ctx, inv, err)
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 1. Serie bloqueada; se relee por si otro intento terminó mientras esperábamos
	// ═══════════════════════════════════════════════════════════════════════════
	unlock := o.locks.Lock(SequenceKey(inv.BusinessID, inv.PointOfSale, inv.CbteTipo))
	defer unlock()

	inv, err = o.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: comprobante %s", domain.ErrNotFound, invoiceID)
	}
	if settled(inv) {
		return inv, nil
	}
	return o.authorizeLocked(ctx, client, inv)
}

func (o *Orchestrator) authorizeLocked(ctx context.Context, client AuthorityClient, inv *entity.Invoice) (*entity.Invoice, error) {
	// ═══════════════════════════════════════════════════════════════════════════
	// 2. Conciliación: con número asignado, AFIP pudo haberlo procesado
	// ═══════════════════════════════════════════════════════════════════════════
	if inv.Number > 0 {
		out, done, err := o.reconcile(ctx, client, inv)
		if done {
			return out, err
		}
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 3. Numeración: último autorizado + 1
	// ═══════════════════════════════════════════════════════════════════════════
	last, err := client.LastAuthorizedNumber(ctx, inv.PointOfSale, inv.CbteTipo)
	if err != nil {
		return o.fail(ctx, inv, err)
	}
	if next := last + 1; inv.Number != next {
		if err := o.assignNumber(ctx, inv, next); err != nil {
			return o.fail(ctx, inv, err)
		}
		inv.Number = next
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 4. Pedido de CAE (se marca SENT antes: si el proceso muere, queda ambiguo)
	// ═══════════════════════════════════════════════════════════════════════════
	req, err := toAuthorizationRequest(inv)
	if err != nil {
		return o.fail(ctx, inv, err)
	}
	inv.AuthorityStatus = entity.AuthorityStatusSent
	if err := o.invoices.UpdateFiscal(ctx, inv); err != nil {
		return inv, err
	}

	res, err := client.RequestAuthorizationCode(ctx, req)
	if err != nil {
		if !errors.Is(err, afip.ErrTimeout) {
			inv.AuthorityStatus = entity.AuthorityStatusPending
		}
		return o.fail(ctx, inv, err)
	}
	if res.IsApproved() {
		return o.approve(ctx, inv, res.Approved.CAE, res.Approved.CAEExpiry, res.Approved.ProcessingMode, joinObservations(res.Approved.Observations))
	}
	return o.reject(ctx, inv, res.Rejected.ErrorCode, res.Rejected.Message)
}

// Reconcile consulta en AFIP un comprobante SENT y resuelve la ambigüedad sin volver a
// pedir CAE: aprobado, rechazado o, si AFIP no lo tiene, de vuelta a PENDING. Lo usa el
// worker con los SENT que agotaron los reintentos.
func (o *Orchestrator) Reconcile(ctx context.Context, invoiceID string) (*entity.Invoice, error) {
	inv, err := o.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: comprobante %s", domain.ErrNotFound, invoiceID)
	}
	if !needsReconcile(inv) {
		return inv, nil
	}
	client, err := o.clients.ClientFor(ctx, inv.BusinessID)
	if err != nil {
		return o.fail(ctx, inv, err)
	}

	unlock := o.locks.Lock(SequenceKey(inv.BusinessID, inv.PointOfSale, inv.CbteTipo))
	defer unlock()

	inv, err = o.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("%w: comprobante %s", domain.ErrNotFound, invoiceID)
	}
	if !needsReconcile(inv) {
		return inv, nil
	}
	out, done, err := o.reconcile(ctx, client, inv)
	if done {
		return out, err
	}
	if err := o.invoices.UpdateFiscal(ctx, out); err != nil {
		return out, err
	}
	o.log.Info().Str("invoice_id", out.ID).Int64("cbte_nro", out.Number).Msg("billing: AFIP no registra el comprobante, deja de estar en vuelo")
	return out, nil
}

// reconcile consulta el número ya asignado. done indica que el comprobante quedó resuelto
// (o que la consulta falló); si no, AFIP no lo tiene y queda PENDING para renumerar.
func (o *Orchestrator) reconcile(ctx context.Context, client AuthorityClient, inv *entity.Invoice) (*entity.Invoice, bool, error) {
	st, err := client.QueryAuthorizationStatus(ctx, inv.PointOfSale, inv.CbteTipo, inv.Number)
	if err != nil {
		out, err := o.fail(ctx, inv, err)
		return out, true, err
	}
	switch {
	case st != nil && st.Result == "A" && st.CAE != "" && fiscal.WithinTolerance(st.Total, inv.TotalAmount):
		o.log.Info().Str("invoice_id", inv.ID).Int64("cbte_nro", inv.Number).Str("cae", st.CAE).Msg("billing: conciliado, AFIP ya había otorgado CAE")
		out, err := o.approve(ctx, inv, st.CAE, st.CAEExpiry, st.ProcessingMode, "")
		return out, true, err
	case st != nil && st.Result == "R":
		out, err := o.reject(ctx, inv, "", "rechazado por AFIP (conciliación)")
		return out, true, err
	case st != nil:
		// El número lo usó otro comprobante (otro sistema sobre el mismo punto de venta).
		o.log.Warn().Str("invoice_id", inv.ID).Int64("cbte_nro", inv.Number).Str("cae_ajeno", st.CAE).Msg("billing: número ocupado en AFIP, se renumera")
	}
	inv.AuthorityStatus = entity.AuthorityStatusPending
	return inv, false, nil
}

// assignNumber fija el número; si lo retiene otro pendiente sin pedido en vuelo, AFIP
// confirma (último = next-1) que no lo tiene, así que se le quita y se reintenta una vez.
func (o *Orchestrator) assignNumber(ctx context.Context, inv *entity.Invoice, next int64) error {
	err := o.invoices.AssignNumber(ctx, inv.ID, next)
	if !errors.Is(err, domain.ErrDuplicate) {
		return err
	}
	released, rerr := o.invoices.ReleaseNumber(ctx, inv.BusinessID, inv.PointOfSale, inv.CbteTipo, next, inv.ID)
	if rerr != nil {
		return rerr
	}
	if released == 0 {
		return err
	}
	o.log.Warn().Str("invoice_id", inv.ID).Int64("cbte_nro", next).Msg("billing: número liberado de un pendiente abandonado")
	return o.invoices.AssignNumber(ctx, inv.ID, next)
}

// ── Resultados ────────────────────────────────────────────────────────────────

func (o *Orchestrator) approve(ctx context.Context, inv *entity.Invoice, cae, expiry, mode, observations string) (*entity.Invoice, error) {
	if err := fiscal.Transition(inv, entity.FiscalStatusAuthorized); err != nil {
		return inv, err
	}
	inv.CAE = cae
	inv.CAEExpiry = parseAFIPDate(expiry)
	inv.ProcessingMode = mode
	if inv.ProcessingMode == "" {
		inv.ProcessingMode = "CAE"
	}
	inv.AuthorityStatus = entity.AuthorityStatusApproved
	inv.Observations = observations
	inv.RejectionCode = ""
	inv.NextRetryAt = nil
	inv.LastError = ""

	var err error
	if pkgafip.IsCreditNote(inv.CbteTipo) && len(inv.Associated) > 0 {
		err = o.closeCreditNote(ctx, inv)
	} else {
		err = o.invoices.UpdateFiscal(ctx, inv)
	}
	if err != nil {
		// El próximo intento lo recupera por conciliación (el número ya está en AFIP).
		o.log.Error().Err(err).Str("invoice_id", inv.ID).Int64("cbte_nro", inv.Number).Str("cae", cae).
			Msg("billing: CAE obtenido pero no persistido")
		return inv, err
	}
	o.log.Info().Str("invoice_id", inv.ID).Int("pto_vta", inv.PointOfSale).Int("cbte_tipo", inv.CbteTipo).
		Int64("cbte_nro", inv.Number).Str("cae", cae).Msg("billing: comprobante autorizado")
	return inv, nil
}

// closeCreditNote persiste la NC autorizada y anula los comprobantes asociados en la misma transacción.
func (o *Orchestrator) closeCreditNote(ctx context.Context, nc *entity.Invoice) error {
	apply := func(repo repository.InvoiceRepository) error {
		if err := repo.UpdateFiscal(ctx, nc); err != nil {
			return err
		}
		for _, a := range nc.Associated {
			orig, err := repo.FindByNumber(ctx, nc.BusinessID, a.PointOfSale, a.CbteTipo, a.Number)
			if err != nil {
				return err
			}
			if orig == nil || !fiscal.CanTransition(orig.FiscalStatus, entity.FiscalStatusCancelled) {
				continue
			}
			_ = fiscal.Transition(orig, entity.FiscalStatusCancelled)
			orig.CancelledByID = nc.ID
			if err := repo.UpdateFiscal(ctx, orig); err != nil {
				return err
			}
		}
		return nil
	}
	if o.tx == nil {
		return apply(o.invoices)
	}
	return o.tx.RunFiscal(ctx, apply)
}

func (o *Orchestrator) reject(ctx context.Context, inv *entity.Invoice, code, message string) (*entity.Invoice, error) {
	if err := fiscal.Transition(inv, entity.FiscalStatusRejected); err != nil {
		return inv, err
	}
	inv.AuthorityStatus = entity.AuthorityStatusRejected
	inv.RejectionCode = code
	inv.Observations = message
	inv.NextRetryAt = nil
	if err := o.invoices.UpdateFiscal(ctx, inv); err != nil {
		return inv, err
	}
	o.log.Warn().Str("invoice_id", inv.ID).Int64("cbte_nro", inv.Number).Str("error_code", code).Str("message", message).
		Msg("billing: comprobante rechazado por AFIP")
	return inv, nil
}

// fail deja el comprobante en PENDING_AUTH con la contabilidad del próximo reintento.
// Un timeout lo marca SENT: el siguiente intento consulta antes de volver a pedir.
func (o *Orchestrator) fail(ctx context.Context, inv *entity.Invoice, cause error) (*entity.Invoice, error) {
	inv.RetryCount++
	next := o.cfg.Now().Add(o.cfg.Schedule(inv.RetryCount))
	inv.NextRetryAt = &next
	inv.LastError = cause.Error()
	if len(inv.LastError) > maxLastError {
		inv.LastError = inv.LastError[:maxLastError]
	}
	if errors.Is(cause, afip.ErrTimeout) {
		inv.AuthorityStatus = entity.AuthorityStatusSent
	}
	ev := o.log.Warn()
	if !afip.IsRetryable(cause) {
		// Certificado, datos locales o configuración: el reintento no lo va a resolver solo.
		ev = o.log.Error()
	}
	ev.Err(cause).Str("invoice_id", inv.ID).Int("retry_count", inv.RetryCount).Time("next_retry_at", next).
		Msg("billing: CAE no obtenido")
	if inv.FiscalStatus == entity.FiscalStatusPendingAuth {
		if err := o.invoices.UpdateFiscal(ctx, inv); err != nil {
			o.log.Error().Err(err).Str("invoice_id", inv.ID).Msg("billing: no se pudo registrar el reintento")
		}
	}
	return inv, cause
}

// settled indica que no queda nada por pedir a AFIP.
func settled(inv *entity.Invoice) bool {
	if inv.HasCAE() {
		return true
	}
	return inv.FiscalStatus != "" && inv.FiscalStatus != entity.FiscalStatusPendingAuth
}

func needsReconcile(inv *entity.Invoice) bool {
	return !settled(inv) && inv.AuthorityStatus == entity.AuthorityStatusSent && inv.Number > 0
}

func parseAFIPDate(s string) *time.Time {
	t, err := time.Parse(pkgafip.DateLayout, s)
	if err != nil {
		return nil
	}
	return &t
}
