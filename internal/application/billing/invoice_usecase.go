package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/abdullazmat/pos-sub003/internal/application/dto"
	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/fiscal"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

// AsyncAuthorizer dispara la autorización en segundo plano (Orchestrator.ProcessAsync).
type AsyncAuthorizer interface {
	ProcessAsync(invoiceID string)
}

// InvoiceUseCase alta de comprobantes, pedido de autorización y notas de crédito.
type InvoiceUseCase struct {
	invoices repository.InvoiceRepository
	sales    repository.SaleRepository
	auth     AsyncAuthorizer
	locks    *SequenceLocks
	now      func() time.Time
	log      zerolog.Logger
}

// NewInvoiceUseCase construye el caso de uso. locks debe ser el mismo del orquestador
// para que una anulación no se cruce con un pedido de CAE en curso; nil = propios.
func NewInvoiceUseCase(invoices repository.InvoiceRepository, sales repository.SaleRepository, auth AsyncAuthorizer, locks *SequenceLocks, log zerolog.Logger) *InvoiceUseCase {
	if locks == nil {
		locks = NewSequenceLocks()
	}
	return &InvoiceUseCase{invoices: invoices, sales: sales, auth: auth, locks: locks, now: time.Now, log: log}
}

// Create persiste el comprobante y, si es fiscal, dispara el pedido de CAE sin esperar
// la respuesta. El número lo asigna el orquestador (último autorizado + 1).
func (uc *InvoiceUseCase) Create(ctx context.Context, businessID string, in dto.CreateInvoiceRequest) (*dto.FiscalStatusResponse, error) {
	inv, err := uc.buildInvoice(businessID, in)
	if err != nil {
		return nil, err
	}

	if in.SaleID != "" {
		sale, err := uc.sales.GetByID(ctx, in.SaleID)
		if err != nil {
			return nil, err
		}
		if sale == nil || sale.BusinessID != businessID {
			return nil, fmt.Errorf("%w: venta %s", domain.ErrNotFound, in.SaleID)
		}
		if sale.InvoiceID != "" {
			return nil, fmt.Errorf("%w: la venta ya tiene comprobante", domain.ErrConflict)
		}
	}

	switch inv.Channel {
	case entity.ChannelFiscal:
		if err := fiscal.ValidateInvoice(inv); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		_ = fiscal.Transition(inv, entity.FiscalStatusPendingAuth)
		inv.AuthorityStatus = entity.AuthorityStatusPending
	case entity.ChannelInternal:
		_ = fiscal.Transition(inv, entity.FiscalStatusInternal)
	default:
		return nil, fmt.Errorf("%w: canal %q (usar FISCAL o INTERNAL)", domain.ErrInvalidInput, inv.Channel)
	}

	if err := uc.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}
	if inv.SaleID != "" {
		if err := uc.sales.LinkInvoice(ctx, inv.SaleID, inv.ID); err != nil {
			return nil, err
		}
	}
	if inv.IsFiscal() {
		uc.auth.ProcessAsync(inv.ID)
	}
	uc.log.Info().Str("invoice_id", inv.ID).Str("channel", inv.Channel).Int("cbte_tipo", inv.CbteTipo).Msg("billing: comprobante creado")
	return toFiscalStatusResponse(inv), nil
}

// RequestAuthorization vuelve a disparar el pedido de CAE de un comprobante pendiente.
// Si ya tiene CAE o un estado final, no hace nada y devuelve el estado actual.
func (uc *InvoiceUseCase) RequestAuthorization(ctx context.Context, businessID, invoiceID string) (*dto.FiscalStatusResponse, error) {
	inv, err := uc.load(ctx, businessID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.IsFiscal() {
		return nil, fmt.Errorf("%w: el comprobante no es fiscal", domain.ErrInvalidInput)
	}
	if !settled(inv) {
		uc.auth.ProcessAsync(inv.ID)
	}
	return toFiscalStatusResponse(inv), nil
}

// FiscalStatus estado fiscal actual (polling).
func (uc *InvoiceUseCase) FiscalStatus(ctx context.Context, businessID, invoiceID string) (*dto.FiscalStatusResponse, error) {
	inv, err := uc.load(ctx, businessID, invoiceID)
	if err != nil {
		return nil, err
	}
	return toFiscalStatusResponse(inv), nil
}

// CreditNote emite la nota de crédito que anula por completo un comprobante autorizado.
// El original pasa a CANCELLED cuando AFIP autoriza la nota. Si ya hay una nota pendiente
// o autorizada para el original, devuelve domain.ErrConflict.
func (uc *InvoiceUseCase) CreditNote(ctx context.Context, businessID, invoiceID string, in dto.CreditNoteRequest) (*dto.FiscalStatusResponse, error) {
	unlock := uc.locks.Lock("nc/" + invoiceID)
	defer unlock()

	orig, err := uc.load(ctx, businessID, invoiceID)
	if err != nil {
		return nil, err
	}
	if orig.FiscalStatus != entity.FiscalStatusAuthorized || !orig.HasCAE() {
		return nil, fmt.Errorf("%w: solo se anulan comprobantes autorizados (estado %s)", domain.ErrConflict, orig.FiscalStatus)
	}
	ncTipo := pkgafip.CreditNoteFor(orig.CbteTipo)
	if ncTipo == 0 {
		return nil, fmt.Errorf("%w: el tipo %d no admite nota de crédito", domain.ErrInvalidInput, orig.CbteTipo)
	}
	prev, err := uc.invoices.FindCreditNoteFor(ctx, businessID, orig.PointOfSale, orig.CbteTipo, orig.Number)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		return nil, fmt.Errorf("%w: el comprobante ya tiene la nota de crédito %s (%s)", domain.ErrConflict, prev.ID, prev.FiscalStatus)
	}

	issued := orig.IssueDate
	nc := &entity.Invoice{
		ID:                   uuid.New().String(),
		BusinessID:           businessID,
		Channel:              entity.ChannelFiscal,
		PointOfSale:          orig.PointOfSale,
		CbteTipo:             ncTipo,
		Concepto:             orig.Concepto,
		DocTipo:              orig.DocTipo,
		DocNro:               orig.DocNro,
		CondicionIVAReceptor: orig.CondicionIVAReceptor,
		IssueDate:            uc.now(),
		ServiceFrom:          orig.ServiceFrom,
		ServiceTo:            orig.ServiceTo,
		PaymentDue:           orig.PaymentDue,
		Currency:             orig.Currency,
		ExchangeRate:         orig.ExchangeRate,
		NetAmount:            orig.NetAmount,
		TaxAmount:            orig.TaxAmount,
		ExemptAmount:         orig.ExemptAmount,
		NonTaxedAmount:       orig.NonTaxedAmount,
		OtherTaxesAmount:     orig.OtherTaxesAmount,
		TotalAmount:          orig.TotalAmount,
		Taxes:                append([]entity.InvoiceTax(nil), orig.Taxes...),
		Associated: []entity.AssociatedDocument{{
			CbteTipo:    orig.CbteTipo,
			PointOfSale: orig.PointOfSale,
			Number:      orig.Number,
			Date:        &issued,
		}},
		Observations: strings.TrimSpace(in.Reason),
	}
	if err := fiscal.ValidateInvoice(nc); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	_ = fiscal.Transition(nc, entity.FiscalStatusPendingAuth)
	nc.AuthorityStatus = entity.AuthorityStatusPending

	if err := uc.invoices.Create(ctx, nc); err != nil {
		return nil, err
	}
	uc.auth.ProcessAsync(nc.ID)
	uc.log.Info().Str("invoice_id", nc.ID).Str("original_id", orig.ID).Int("cbte_tipo", ncTipo).Msg("billing: nota de crédito creada")
	return toFiscalStatusResponse(nc), nil
}

// Void anula administrativamente un comprobante fiscal que nunca obtuvo CAE
// (PENDING_AUTH → VOIDED). Con un pedido SENT sin conciliar devuelve domain.ErrConflict:
// AFIP pudo haberlo autorizado.
func (uc *InvoiceUseCase) Void(ctx context.Context, businessID, invoiceID string) (*dto.FiscalStatusResponse, error) {
	inv, err := uc.load(ctx, businessID, invoiceID)
	if err != nil {
		return nil, err
	}
	if !inv.IsFiscal() {
		return nil, fmt.Errorf("%w: el comprobante no es fiscal", domain.ErrInvalidInput)
	}

	// Misma serie que el orquestador: no se anula en medio de un pedido de CAE.
	unlock := uc.locks.Lock(SequenceKey(inv.BusinessID, inv.PointOfSale, inv.CbteTipo))
	defer unlock()

	inv, err = uc.load(ctx, businessID, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.AuthorityStatus == entity.AuthorityStatusSent {
		return nil, fmt.Errorf("%w: pedido de CAE sin respuesta, consultar AFIP antes de anular", domain.ErrConflict)
	}
	if inv.HasCAE() {
		return nil, fmt.Errorf("%w: el comprobante tiene CAE, anular con nota de crédito", domain.ErrConflict)
	}
	if err := fiscal.Transition(inv, entity.FiscalStatusVoided); err != nil {
		return nil, err
	}
	inv.NextRetryAt = nil
	if err := uc.invoices.UpdateFiscal(ctx, inv); err != nil {
		return nil, err
	}
	uc.log.Info().Str("invoice_id", inv.ID).Int64("cbte_nro", inv.Number).Msg("billing: comprobante anulado")
	return toFiscalStatusResponse(inv), nil
}

func (uc *InvoiceUseCase) load(ctx context.Context, businessID, invoiceID string) (*entity.Invoice, error) {
	inv, err := uc.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	// Un comprobante de otro negocio se informa como inexistente.
	if inv == nil || inv.BusinessID != businessID {
		return nil, fmt.Errorf("%w: comprobante %s", domain.ErrNotFound, invoiceID)
	}
	return inv, nil
}

func (uc *InvoiceUseCase) buildInvoice(businessID string, in dto.CreateInvoiceRequest) (*entity.Invoice, error) {
	issue := uc.now()
	if in.IssueDate != "" {
		t, err := parseOptionalDate("issue_date", in.IssueDate)
		if err != nil {
			return nil, err
		}
		issue = *t
	}
	from, err := parseOptionalDate("service_from", in.ServiceFrom)
	if err != nil {
		return nil, err
	}
	to, err := parseOptionalDate("service_to", in.ServiceTo)
	if err != nil {
		return nil, err
	}
	due, err := parseOptionalDate("payment_due", in.PaymentDue)
	if err != nil {
		return nil, err
	}

	channel := strings.ToUpper(strings.TrimSpace(in.Channel))
	if channel == "" {
		channel = entity.ChannelFiscal
	}
	currency := in.Currency
	if currency == "" {
		currency = pkgafip.MonedaPesos
	}
	rate := in.ExchangeRate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}

	inv := &entity.Invoice{
		ID:                   uuid.New().String(),
		BusinessID:           businessID,
		SaleID:               in.SaleID,
		Channel:              channel,
		PointOfSale:          in.PointOfSale,
		CbteTipo:             in.CbteTipo,
		Concepto:             in.Concepto,
		DocTipo:              in.DocTipo,
		DocNro:               in.DocNro,
		CondicionIVAReceptor: in.CondicionIVAReceptor,
		IssueDate:            issue,
		ServiceFrom:          from,
		ServiceTo:            to,
		PaymentDue:           due,
		Currency:             currency,
		ExchangeRate:         rate,
		NetAmount:            in.NetAmount,
		TaxAmount:            in.TaxAmount,
		ExemptAmount:         in.ExemptAmount,
		NonTaxedAmount:       in.NonTaxedAmount,
		OtherTaxesAmount:     in.OtherTaxesAmount,
		TotalAmount:          in.TotalAmount,
	}
	for _, t := range in.Taxes {
		inv.Taxes = append(inv.Taxes, entity.InvoiceTax{IvaID: t.IvaID, BaseImp: t.BaseImp, Importe: t.Importe})
	}
	for i, a := range in.Associated {
		date, err := parseOptionalDate(fmt.Sprintf("associated[%d].date", i), a.Date)
		if err != nil {
			return nil, err
		}
		inv.Associated = append(inv.Associated, entity.AssociatedDocument{
			CbteTipo: a.CbteTipo, PointOfSale: a.PointOfSale, Number: a.Number, CUIT: a.CUIT, Date: date,
		})
	}
	return inv, nil
}
