package billing_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/abdullazmat/pos-sub003/internal/application/billing"
	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
)

const testBusiness = "biz-1"

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// facturaB factura B a consumidor final por 1210 (1000 + 21 % IVA), sin numerar.
func facturaB() *entity.Invoice {
	return &entity.Invoice{
		ID:                   uuid.New().String(),
		BusinessID:           testBusiness,
		Channel:              entity.ChannelFiscal,
		PointOfSale:          1,
		CbteTipo:             6,
		Concepto:             1,
		DocTipo:              99,
		DocNro:               "0",
		CondicionIVAReceptor: 5,
		IssueDate:            testNow,
		Currency:             "PES",
		ExchangeRate:         decimal.NewFromInt(1),
		NetAmount:            d("1000"),
		TaxAmount:            d("210"),
		TotalAmount:          d("1210"),
		Taxes:                []entity.InvoiceTax{{IvaID: 5, BaseImp: d("1000"), Importe: d("210")}},
		FiscalStatus:         entity.FiscalStatusPendingAuth,
		AuthorityStatus:      entity.AuthorityStatusPending,
	}
}

// ── memInvoices ───────────────────────────────────────────────────────────────

type memInvoices struct {
	mu   sync.Mutex
	byID map[string]*entity.Invoice
	seq  int
}

var _ repository.InvoiceRepository = (*memInvoices)(nil)

func newMemInvoices(invs ...*entity.Invoice) *memInvoices {
	m := &memInvoices{byID: map[string]*entity.Invoice{}}
	for _, inv := range invs {
		_ = m.Create(context.Background(), inv)
	}
	return m
}

func clone(inv *entity.Invoice) *entity.Invoice {
	c := *inv
	c.Taxes = append([]entity.InvoiceTax(nil), inv.Taxes...)
	c.Associated = append([]entity.AssociatedDocument(nil), inv.Associated...)
	return &c
}

// holdsNumber replica el índice único parcial: rechazados y anulados no retienen número.
func holdsNumber(o *entity.Invoice, businessID string, pos, tipo int, number int64) bool {
	return o.BusinessID == businessID && o.PointOfSale == pos && o.CbteTipo == tipo && o.Number == number &&
		o.FiscalStatus != entity.FiscalStatusRejected && o.FiscalStatus != entity.FiscalStatusVoided
}

func (m *memInvoices) numberTaken(id string, inv *entity.Invoice, number int64) bool {
	for _, o := range m.byID {
		if o.ID != id && holdsNumber(o, inv.BusinessID, inv.PointOfSale, inv.CbteTipo, number) {
			return true
		}
	}
	return false
}

func (m *memInvoices) Create(_ context.Context, inv *entity.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.Number > 0 && m.numberTaken(inv.ID, inv, inv.Number) {
		return domain.ErrDuplicate
	}
	m.seq++
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = testNow.Add(time.Duration(m.seq) * time.Second)
	}
	inv.UpdatedAt = inv.CreatedAt
	m.byID[inv.ID] = clone(inv)
	return nil
}

func (m *memInvoices) GetByID(_ context.Context, id string) (*entity.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	return clone(inv), nil
}

func (m *memInvoices) AssignNumber(_ context.Context, id string, number int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok || inv.CAE != "" {
		return domain.ErrConflict
	}
	if m.numberTaken(id, inv, number) {
		return domain.ErrDuplicate
	}
	inv.Number = number
	return nil
}

func (m *memInvoices) UpdateFiscal(_ context.Context, inv *entity.Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[inv.ID]
	if !ok {
		return domain.ErrNotFound
	}
	next := clone(inv)
	next.Number = cur.Number
	m.byID[inv.ID] = next
	return nil
}

func (m *memInvoices) ReleaseNumber(_ context.Context, businessID string, pointOfSale, cbteTipo int, number int64, exceptID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.byID {
		if o.ID == exceptID || !holdsNumber(o, businessID, pointOfSale, cbteTipo, number) {
			continue
		}
		if o.FiscalStatus == entity.FiscalStatusPendingAuth && o.CAE == "" && o.AuthorityStatus != entity.AuthorityStatusSent {
			o.Number = 0
			n++
		}
	}
	return n, nil
}

func (m *memInvoices) FindByNumber(_ context.Context, businessID string, pointOfSale, cbteTipo int, number int64) (*entity.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if holdsNumber(o, businessID, pointOfSale, cbteTipo, number) {
			return clone(o), nil
		}
	}
	return nil, nil
}

func (m *memInvoices) FindCreditNoteFor(_ context.Context, businessID string, pointOfSale, cbteTipo int, number int64) (*entity.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.BusinessID != businessID ||
			(o.FiscalStatus != entity.FiscalStatusPendingAuth && o.FiscalStatus != entity.FiscalStatusAuthorized) {
			continue
		}
		for _, a := range o.Associated {
			if a.PointOfSale == pointOfSale && a.CbteTipo == cbteTipo && a.Number == number {
				return clone(o), nil
			}
		}
	}
	return nil, nil
}

func (m *memInvoices) ListRetryable(_ context.Context, now, olderThan time.Time, maxAttempts, limit int) ([]*entity.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Invoice
	for _, o := range m.byID {
		if o.Channel != entity.ChannelFiscal || o.FiscalStatus != entity.FiscalStatusPendingAuth {
			continue
		}
		if o.NextRetryAt != nil && o.NextRetryAt.After(now) {
			continue
		}
		if o.UpdatedAt.After(olderThan) {
			continue
		}
		if o.RetryCount >= maxAttempts && o.AuthorityStatus != entity.AuthorityStatusSent {
			continue
		}
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memInvoices) get(t *testing.T, id string) *entity.Invoice {
	t.Helper()
	inv, err := m.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, inv, "comprobante %s inexistente", id)
	return inv
}

// ── otros repos ───────────────────────────────────────────────────────────────

type memPoints struct{ active map[int]bool }

func newMemPoints(numbers ...int) *memPoints {
	p := &memPoints{active: map[int]bool{}}
	for _, n := range numbers {
		p.active[n] = true
	}
	return p
}

func (p *memPoints) GetActive(_ context.Context, businessID string, number int) (*entity.PointOfSale, error) {
	if !p.active[number] {
		return nil, nil
	}
	return &entity.PointOfSale{ID: fmt.Sprintf("pos-%d", number), BusinessID: businessID, Number: number, EmissionType: "CAE", IsActive: true}, nil
}

type memSales struct {
	mu    sync.Mutex
	sales map[string]*entity.Sale
}

func newMemSales(sales ...*entity.Sale) *memSales {
	m := &memSales{sales: map[string]*entity.Sale{}}
	for _, s := range sales {
		m.sales[s.ID] = s
	}
	return m
}

func (m *memSales) GetByID(_ context.Context, id string) (*entity.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (m *memSales) LinkInvoice(_ context.Context, saleID, invoiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[saleID]
	if !ok {
		return domain.ErrNotFound
	}
	s.InvoiceID = invoiceID
	return nil
}

// countingTx ejecuta fn sobre el mismo repo en memoria y cuenta transacciones.
type countingTx struct {
	repo  repository.InvoiceRepository
	calls int
}

func (c *countingTx) RunFiscal(_ context.Context, fn func(repository.InvoiceRepository) error) error {
	c.calls++
	return fn(c.repo)
}

// ── fakeClient: AFIP en memoria ───────────────────────────────────────────────

type fakeClient struct {
	mu         sync.Mutex
	last       map[string]int64
	authorized map[string]*afip.AuthorizationStatus
	requests   []afip.AuthorizationRequest
	lastCalls  int
	queryCalls int

	// failures se consumen de a uno en cada RequestAuthorizationCode.
	failures []error
	// commitOnFailure: AFIP registra el comprobante aunque la respuesta no llegue.
	commitOnFailure bool
	reject          *afip.Rejection
	delay           time.Duration

	inflight    int32
	maxInflight int32
}

var _ billing.AuthorityClient = (*fakeClient)(nil)

func newFakeClient(last int64) *fakeClient {
	return &fakeClient{
		last:       map[string]int64{"1/6": last},
		authorized: map[string]*afip.AuthorizationStatus{},
	}
}

func seriesKey(pos, tipo int) string { return fmt.Sprintf("%d/%d", pos, tipo) }

func numberKey(pos, tipo int, n int64) string { return fmt.Sprintf("%d/%d/%d", pos, tipo, n) }

func (f *fakeClient) RequestAuthorizationCode(_ context.Context, req afip.AuthorizationRequest) (*afip.AuthorizationResult, error) {
	cur := atomic.AddInt32(&f.inflight, 1)
	defer atomic.AddInt32(&f.inflight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInflight)
		if cur <= prev || atomic.CompareAndSwapInt32(&f.maxInflight, prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)

	var failure error
	if len(f.failures) > 0 {
		failure, f.failures = f.failures[0], f.failures[1:]
		if !f.commitOnFailure {
			return nil, failure
		}
	}
	if f.reject != nil {
		return &afip.AuthorizationResult{Rejected: f.reject}, failure
	}
	key := seriesKey(req.PointOfSale, req.CbteTipo)
	if req.Number != f.last[key]+1 {
		return &afip.AuthorizationResult{Rejected: &afip.Rejection{ErrorCode: "10016", Message: "número no correlativo"}}, failure
	}
	f.last[key] = req.Number
	st := &afip.AuthorizationStatus{
		PointOfSale: req.PointOfSale, CbteTipo: req.CbteTipo, Number: req.Number,
		CAE: fmt.Sprintf("7127908331%04d", req.Number), CAEExpiry: "20260325", ProcessingMode: "CAE",
		Result: "A", Total: req.TotalAmount,
	}
	f.authorized[numberKey(req.PointOfSale, req.CbteTipo, req.Number)] = st
	if failure != nil {
		return nil, failure
	}
	return &afip.AuthorizationResult{Approved: &afip.Approval{CAE: st.CAE, CAEExpiry: st.CAEExpiry, ProcessingMode: "CAE"}}, nil
}

func (f *fakeClient) LastAuthorizedNumber(_ context.Context, pos, tipo int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCalls++
	return f.last[seriesKey(pos, tipo)], nil
}

func (f *fakeClient) QueryAuthorizationStatus(_ context.Context, pos, tipo int, n int64) (*afip.AuthorizationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	st, ok := f.authorized[numberKey(pos, tipo, n)]
	if !ok {
		return nil, nil
	}
	c := *st
	return &c, nil
}

func (f *fakeClient) ServerStatus(context.Context) (*afip.ServerStatus, error) {
	return &afip.ServerStatus{AppServer: "OK", DbServer: "OK", AuthServer: "OK"}, nil
}

func (f *fakeClient) counts() (requests, lasts, queries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests), f.lastCalls, f.queryCalls
}

type fakeProvider struct {
	client billing.AuthorityClient
	err    error
	calls  int32
}

func (p *fakeProvider) ClientFor(context.Context, string) (billing.AuthorityClient, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.err != nil {
		return nil, p.err
	}
	return p.client, nil
}

// ── armado ────────────────────────────────────────────────────────────────────

type orchFixture struct {
	invoices *memInvoices
	client   *fakeClient
	provider *fakeProvider
	tx       *countingTx
	locks    *billing.SequenceLocks
	orch     *billing.Orchestrator
}

func newOrchFixture(t *testing.T, client *fakeClient, invs ...*entity.Invoice) *orchFixture {
	t.Helper()
	f := &orchFixture{invoices: newMemInvoices(invs...), client: client}
	f.provider = &fakeProvider{client: client}
	f.tx = &countingTx{repo: f.invoices}
	f.locks = billing.NewSequenceLocks()
	f.orch = billing.NewOrchestrator(f.invoices, newMemPoints(1, 2), f.provider, f.tx, f.locks,
		billing.OrchestratorConfig{Now: func() time.Time { return testNow }}, zerolog.Nop())
	return f
}
