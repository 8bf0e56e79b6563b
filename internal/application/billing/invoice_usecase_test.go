package billing_test

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdullazmat/pos-sub003/internal/application/billing"
	"github.com/abdullazmat/pos-sub003/internal/application/dto"
	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
)

type recordingAuthorizer struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingAuthorizer) ProcessAsync(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func facturaBRequest() dto.CreateInvoiceRequest {
	return dto.CreateInvoiceRequest{
		Channel:              "fiscal",
		PointOfSale:          1,
		CbteTipo:             6,
		Concepto:             1,
		DocTipo:              99,
		DocNro:               "0",
		CondicionIVAReceptor: 5,
		IssueDate:            "2026-03-15",
		NetAmount:            d("1000"),
		TaxAmount:            d("210"),
		TotalAmount:          d("1210"),
		Taxes:                []dto.InvoiceTaxRequest{{IvaID: 5, BaseImp: d("1000"), Importe: d("210")}},
	}
}

func TestInvoiceUseCase_CreateFiscalDisparaAutorizacion(t *testing.T) {
	invoices := newMemInvoices()
	sales := newMemSales(&entity.Sale{ID: "sale-1", BusinessID: testBusiness, Channel: entity.ChannelFiscal})
	auth := &recordingAuthorizer{}
	uc := billing.NewInvoiceUseCase(invoices, sales, auth, nil, zerolog.Nop())

	in := facturaBRequest()
	in.SaleID = "sale-1"
	out, err := uc.Create(context.Background(), testBusiness, in)
	require.NoError(t, err)

	assert.Equal(t, entity.ChannelFiscal, out.Channel)
	assert.Equal(t, entity.FiscalStatusPendingAuth, out.FiscalStatus)
	assert.Zero(t, out.Number, "el número lo asigna el orquestador")
	assert.Equal(t, []string{out.ID}, auth.ids)

	stored := invoices.get(t, out.ID)
	assert.Equal(t, "PES", stored.Currency)
	assert.True(t, stored.ExchangeRate.Equal(d("1")))
	sale, _ := sales.GetByID(context.Background(), "sale-1")
	assert.Equal(t, out.ID, sale.InvoiceID)
}

func TestInvoiceUseCase_CreateInternoNoVaAAFIP(t *testing.T) {
	auth := &recordingAuthorizer{}
	uc := billing.NewInvoiceUseCase(newMemInvoices(), newMemSales(), auth, nil, zerolog.Nop())

	in := facturaBRequest()
	in.Channel = entity.ChannelInternal
	out, err := uc.Create(context.Background(), testBusiness, in)
	require.NoError(t, err)

	assert.Equal(t, entity.FiscalStatusInternal, out.FiscalStatus)
	assert.Empty(t, auth.ids)
}

func TestInvoiceUseCase_CreateInvalido(t *testing.T) {
	cases := map[string]func(*dto.CreateInvoiceRequest){
		"total inconsistente": func(in *dto.CreateInvoiceRequest) { in.TotalAmount = d("1300") },
		"canal desconocido":   func(in *dto.CreateInvoiceRequest) { in.Channel = "OTRO" },
		"fecha mal formada":   func(in *dto.CreateInvoiceRequest) { in.IssueDate = "15/03/2026" },
		"factura A sin CUIT":  func(in *dto.CreateInvoiceRequest) { in.CbteTipo = 1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			invoices := newMemInvoices()
			auth := &recordingAuthorizer{}
			uc := billing.NewInvoiceUseCase(invoices, newMemSales(), auth, nil, zerolog.Nop())

			in := facturaBRequest()
			mutate(&in)
			_, err := uc.Create(context.Background(), testBusiness, in)
			require.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Empty(t, invoices.byID)
			assert.Empty(t, auth.ids)
		})
	}
}

func TestInvoiceUseCase_CreateVentaAjena(t *testing.T) {
	sales := newMemSales(&entity.Sale{ID: "sale-9", BusinessID: "otro"})
	uc := billing.NewInvoiceUseCase(newMemInvoices(), sales, &recordingAuthorizer{}, nil, zerolog.Nop())

	in := facturaBRequest()
	in.SaleID = "sale-9"
	_, err := uc.Create(context.Background(), testBusiness, in)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInvoiceUseCase_RequestAuthorization(t *testing.T) {
	pending := facturaB()
	done := facturaB()
	done.FiscalStatus = entity.FiscalStatusAuthorized
	done.CAE = "71279083310105"
	auth := &recordingAuthorizer{}
	uc := billing.NewInvoiceUseCase(newMemInvoices(pending, done), newMemSales(), auth, nil, zerolog.Nop())

	_, err := uc.RequestAuthorization(context.Background(), testBusiness, pending.ID)
	require.NoError(t, err)
	out, err := uc.RequestAuthorization(context.Background(), testBusiness, done.ID)
	require.NoError(t, err)
	assert.Equal(t, "71279083310105", out.CAE)

	assert.Equal(t, []string{pending.ID}, auth.ids, "un comprobante con CAE no se vuelve a enviar")

	_, err = uc.RequestAuthorization(context.Background(), "otro-negocio", pending.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInvoiceUseCase_CreditNote(t *testing.T) {
	orig := facturaB()
	orig.Number = 105
	orig.FiscalStatus = entity.FiscalStatusAuthorized
	orig.CAE = "71279083310105"
	invoices := newMemInvoices(orig)
	auth := &recordingAuthorizer{}
	uc := billing.NewInvoiceUseCase(invoices, newMemSales(), auth, nil, zerolog.Nop())

	out, err := uc.CreditNote(context.Background(), testBusiness, orig.ID, dto.CreditNoteRequest{Reason: "devolución"})
	require.NoError(t, err)

	assert.Equal(t, 8, out.CbteTipo, "factura B se anula con nota de crédito B")
	assert.Equal(t, entity.FiscalStatusPendingAuth, out.FiscalStatus)
	assert.Equal(t, []string{out.ID}, auth.ids)

	nc := invoices.get(t, out.ID)
	require.Len(t, nc.Associated, 1)
	assert.Equal(t, entity.AssociatedDocument{CbteTipo: 6, PointOfSale: 1, Number: 105, Date: nc.Associated[0].Date}, nc.Associated[0])
	assert.True(t, nc.TotalAmount.Equal(d("1210")))
}

func TestInvoiceUseCase_CreditNoteSoloAutorizados(t *testing.T) {
	pending := facturaB()
	uc := billing.NewInvoiceUseCase(newMemInvoices(pending), newMemSales(), &recordingAuthorizer{}, nil, zerolog.Nop())

	_, err := uc.CreditNote(context.Background(), testBusiness, pending.ID, dto.CreditNoteRequest{})
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestInvoiceUseCase_CreditNoteNoSeDuplica(t *testing.T) {
	orig := facturaB()
	orig.Number = 105
	orig.FiscalStatus = entity.FiscalStatusAuthorized
	orig.CAE = "71279083310105"
	invoices := newMemInvoices(orig)
	auth := &recordingAuthorizer{}
	uc := billing.NewInvoiceUseCase(invoices, newMemSales(), auth, nil, zerolog.Nop())

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = uc.CreditNote(context.Background(), testBusiness, orig.ID, dto.CreditNoteRequest{Reason: "devolución"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrConflict)
	}
	assert.Equal(t, 1, ok, "una sola nota de crédito por comprobante")
	assert.Len(t, auth.ids, 1)
}

func TestInvoiceUseCase_CreditNoteTrasRechazoSePuedeReemitir(t *testing.T) {
	orig := facturaB()
	orig.Number = 105
	orig.FiscalStatus = entity.FiscalStatusAuthorized
	orig.CAE = "71279083310105"
	invoices := newMemInvoices(orig)
	uc := billing.NewInvoiceUseCase(invoices, newMemSales(), &recordingAuthorizer{}, nil, zerolog.Nop())

	first, err := uc.CreditNote(context.Background(), testBusiness, orig.ID, dto.CreditNoteRequest{})
	require.NoError(t, err)
	nc := invoices.get(t, first.ID)
	nc.FiscalStatus = entity.FiscalStatusRejected
	require.NoError(t, invoices.UpdateFiscal(context.Background(), nc))

	second, err := uc.CreditNote(context.Background(), testBusiness, orig.ID, dto.CreditNoteRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestInvoiceUseCase_Void(t *testing.T) {
	pending := facturaB()
	pending.Number = 105
	pending.RetryCount = 2
	uc := billing.NewInvoiceUseCase(newMemInvoices(pending), newMemSales(), &recordingAuthorizer{}, nil, zerolog.Nop())

	out, err := uc.Void(context.Background(), testBusiness, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusVoided, out.FiscalStatus)
	assert.Equal(t, int64(105), out.Number)
}

func TestInvoiceUseCase_VoidRechazos(t *testing.T) {
	sent := facturaB()
	sent.Number = 105
	sent.AuthorityStatus = entity.AuthorityStatusSent
	authorized := facturaB()
	authorized.Number = 104
	authorized.FiscalStatus = entity.FiscalStatusAuthorized
	authorized.CAE = "71279083310104"
	internal := facturaB()
	internal.Channel = entity.ChannelInternal
	internal.FiscalStatus = entity.FiscalStatusInternal
	invoices := newMemInvoices(sent, authorized, internal)
	uc := billing.NewInvoiceUseCase(invoices, newMemSales(), &recordingAuthorizer{}, nil, zerolog.Nop())

	cases := []struct {
		name     string
		business string
		id       string
		want     error
	}{
		{"pedido en vuelo", testBusiness, sent.ID, domain.ErrConflict},
		{"con CAE", testBusiness, authorized.ID, domain.ErrConflict},
		{"interno", testBusiness, internal.ID, domain.ErrInvalidInput},
		{"otro negocio", "otro-negocio", sent.ID, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := uc.Void(context.Background(), tc.business, tc.id)
			require.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, entity.FiscalStatusPendingAuth, invoices.get(t, sent.ID).FiscalStatus)
}

// Anulado el pendiente, el orquestador no lo pide y su número queda libre para la serie.
func TestInvoiceUseCase_VoidLiberaLaSerie(t *testing.T) {
	voided := facturaB()
	voided.Number = 105
	next := facturaB()
	f := newOrchFixture(t, newFakeClient(104), voided, next)
	uc := billing.NewInvoiceUseCase(f.invoices, newMemSales(), f.orch, f.locks, zerolog.Nop())

	_, err := uc.Void(context.Background(), testBusiness, voided.ID)
	require.NoError(t, err)

	out, err := f.orch.Authorize(context.Background(), voided.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusVoided, out.FiscalStatus)

	out, err = f.orch.Authorize(context.Background(), next.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(105), out.Number)
	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)
	requests, _, _ := f.client.counts()
	assert.Equal(t, 1, requests)
}

// Alta + orquestador real + AFIP en memoria: escenario A de punta a punta.
func TestInvoiceUseCase_CreateHastaCAE(t *testing.T) {
	f := newOrchFixture(t, newFakeClient(104))
	uc := billing.NewInvoiceUseCase(f.invoices, newMemSales(), f.orch, f.locks, zerolog.Nop())

	created, err := uc.Create(context.Background(), testBusiness, facturaBRequest())
	require.NoError(t, err)
	f.orch.Wait()

	out, err := uc.FiscalStatus(context.Background(), testBusiness, created.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)
	assert.Equal(t, int64(105), out.Number)
	assert.Equal(t, "71279083310105", out.CAE)
	assert.Equal(t, "2026-03-25", out.CAEExpiry)
}
