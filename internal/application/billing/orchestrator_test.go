package billing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
)

func TestAuthorize_PrimerIntentoUsaUltimoMasUno(t *testing.T) {
	inv := facturaB()
	f := newOrchFixture(t, newFakeClient(104), inv)

	out, err := f.orch.Authorize(context.Background(), inv.ID)
	require.NoError(t, err)

	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)
	assert.Equal(t, entity.AuthorityStatusApproved, out.AuthorityStatus)
	assert.Equal(t, int64(105), out.Number)
	assert.Equal(t, "71279083310105", out.CAE)
	require.NotNil(t, out.CAEExpiry)
	assert.Equal(t, "2026-03-25", out.CAEExpiry.Format("2006-01-02"))

	require.Len(t, f.client.requests, 1)
	assert.Equal(t, int64(105), f.client.requests[0].Number)

	stored := f.invoices.get(t, inv.ID)
	assert.Equal(t, entity.FiscalStatusAuthorized, stored.FiscalStatus)
	assert.Equal(t, int64(105), stored.Number)
	assert.Nil(t, stored.NextRetryAt)
}

func TestAuthorize_IdempotenteTrasExito(t *testing.T) {
	inv := facturaB()
	f := newOrchFixture(t, newFakeClient(104), inv)

	_, err := f.orch.Authorize(context.Background(), inv.ID)
	require.NoError(t, err)
	req1, last1, q1 := f.client.counts()

	out, err := f.orch.Authorize(context.Background(), inv.ID)
	require.NoError(t, err)
	req2, last2, q2 := f.client.counts()

	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)
	assert.Equal(t, 1, req2, "no debe haber un segundo pedido de CAE")
	assert.Equal(t, []int{req1, last1, q1}, []int{req2, last2, q2}, "el segundo Authorize no toca la red")
}

func TestAuthorize_TimeoutConCAEOtorgadoSeConcilia(t *testing.T) {
	client := newFakeClient(104)
	client.failures = []error{fmt.Errorf("%w: sin respuesta de WSFE", afip.ErrTimeout)}
	client.commitOnFailure = true
	inv := facturaB()
	f := newOrchFixture(t, client, inv)

	_, err := f.orch.Authorize(context.Background(), inv.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, afip.ErrTimeout))

	pending := f.invoices.get(t, inv.ID)
	assert.Equal(t, entity.FiscalStatusPendingAuth, pending.FiscalStatus)
	assert.Equal(t, entity.AuthorityStatusSent, pending.AuthorityStatus, "un timeout deja el resultado ambiguo")
	assert.Equal(t, int64(105), pending.Number)
	assert.Equal(t, 1, pending.RetryCount)
	require.NotNil(t, pending.NextRetryAt)
	assert.Equal(t, testNow.Add(time.Minute), *pending.NextRetryAt)
	assert.Contains(t, pending.LastError, "sin respuesta")

	out, err := f.orch.Authorize(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)
	assert.Equal(t, "71279083310105", out.CAE)

	requests, _, queries := f.client.counts()
	assert.Equal(t, 1, requests, "el CAE se recupera por consulta, sin volver a pedirlo")
	assert.Equal(t, 1, queries)
}

func TestAuthorize_TimeoutSinRegistroReintentaMismoNumero(t *testing.T) {
	client := newFakeClient(104)
	client.failures = []error{afip.ErrTimeout}
	inv := facturaB()
	f := newOrchFixture(t, client, inv)

	_, err := f.orch.Authorize(context.Background(), inv.ID)
	require.ErrorIs(t, err, afip.ErrTimeout)

	out, err := f.orch.Authorize(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)

	require.Len(t, client.requests, 2)
	assert.Equal(t, int64(105), client.requests[0].Number)
	assert.Equal(t, int64(105), client.requests[1].Number)
}

func TestAuthorize_ErrorDeTransporteQuedaPendiente(t *testing.T) {
	client := newFakeClient(104)
	client.failures = []error{&afip.FaultError{Kind: afip.ErrTransport, Code: "501", Message: "error interno"}}
	inv := facturaB()
	f := newOrchFixture(t, client, inv)

	_, err := f.orch.Authorize(context.Background(), inv.ID)
	require.ErrorIs(t, err, afip.ErrTransport)

	stored := f.invoices.get(t, inv.ID)
	assert.Equal(t, entity.AuthorityStatusPending, stored.AuthorityStatus)
	assert.Equal(t, entity.FiscalStatusPendingAuth, stored.FiscalStatus)
	assert.Equal(t, 1, stored.RetryCount)
}

func TestAuthorize_RechazoEsFinal(t *testing.T) {
	client := newFakeClient(104)
	client.reject = &afip.Rejection{ErrorCode: "10016", Message: "CUIT not authorized"}
	inv := facturaB()
	f := newOrchFixture(t, client, inv)

	out, err := f.orch.Authorize(context.Background(), inv.ID)
	require.NoError(t, err, "un rechazo no es error")
	assert.Equal(t, entity.FiscalStatusRejected, out.FiscalStatus)
	assert.Equal(t, entity.AuthorityStatusRejected, out.AuthorityStatus)
	assert.Equal(t, "10016", out.RejectionCode)
	assert.Equal(t, "CUIT not authorized", out.Observations)

	before, _, _ := client.counts()
	_, err = f.orch.Authorize(context.Background(), inv.ID)
	require.NoError(t, err)
	after, _, _ := client.counts()
	assert.Equal(t, before, after)
}

func TestAuthorize_RechazoLiberaElNumero(t *testing.T) {
	client := newFakeClient(104)
	client.reject = &afip.Rejection{ErrorCode: "10048", Message: "importe total inválido"}
	first, second := facturaB(), facturaB()
	f := newOrchFixture(t, client, first, second)

	out, err := f.orch.Authorize(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusRejected, out.FiscalStatus)
	assert.Equal(t, int64(105), out.Number)

	client.mu.Lock()
	client.reject = nil
	client.mu.Unlock()

	out, err = f.orch.Authorize(context.Background(), second.ID)
	require.NoError(t, err, "la serie no queda trabada por un rechazo")
	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)
	assert.Equal(t, int64(105), out.Number)

	rejected := f.invoices.get(t, first.ID)
	assert.Equal(t, entity.FiscalStatusRejected, rejected.FiscalStatus)
	assert.Equal(t, int64(105), rejected.Number, "el rechazado conserva su número como registro")
}

func TestAuthorize_PendienteAbandonadoLiberaSuNumero(t *testing.T) {
	stale := facturaB()
	stale.Number = 105
	fresh := facturaB()
	f := newOrchFixture(t, newFakeClient(104), stale, fresh)

	out, err := f.orch.Authorize(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(105), out.Number)
	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)
	assert.Zero(t, f.invoices.get(t, stale.ID).Number)

	out, err = f.orch.Authorize(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(106), out.Number)
}

func TestAuthorize_NumeroEnVueloNoSeLibera(t *testing.T) {
	inFlight := facturaB()
	inFlight.Number = 105
	inFlight.AuthorityStatus = entity.AuthorityStatusSent
	fresh := facturaB()
	f := newOrchFixture(t, newFakeClient(104), inFlight, fresh)

	_, err := f.orch.Authorize(context.Background(), fresh.ID)
	require.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Equal(t, int64(105), f.invoices.get(t, inFlight.ID).Number)

	out, err := f.orch.Authorize(context.Background(), inFlight.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(105), out.Number, "AFIP no lo tiene: se pide con el mismo número")
	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)

	out, err = f.orch.Authorize(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(106), out.Number)
}

func TestAuthorize_SerieSerializada(t *testing.T) {
	client := newFakeClient(104)
	client.delay = 5 * time.Millisecond
	var invs []*entity.Invoice
	for i := 0; i < 5; i++ {
		invs = append(invs, facturaB())
	}
	f := newOrchFixture(t, client, invs...)

	var wg sync.WaitGroup
	for _, inv := range invs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.orch.Authorize(context.Background(), id)
			assert.NoError(t, err)
		}(inv.ID)
	}
	wg.Wait()

	numbers := map[int64]bool{}
	for _, inv := range invs {
		stored := f.invoices.get(t, inv.ID)
		assert.Equal(t, entity.FiscalStatusAuthorized, stored.FiscalStatus)
		numbers[stored.Number] = true
	}
	assert.Equal(t, map[int64]bool{105: true, 106: true, 107: true, 108: true, 109: true}, numbers)
	assert.Equal(t, int32(1), client.maxInflight, "nunca dos pedidos de CAE simultáneos para la misma serie")
	assert.Equal(t, 0, f.locks.Len(), "las series sin usuarios se liberan")
}

func TestAuthorize_NumeroOcupadoPorOtroSistemaSeRenumera(t *testing.T) {
	client := newFakeClient(105)
	client.authorized[numberKey(1, 6, 105)] = &afip.AuthorizationStatus{
		PointOfSale: 1, CbteTipo: 6, Number: 105, CAE: "99999999999999", Result: "A", Total: d("5000"),
	}
	inv := facturaB()
	inv.Number = 105
	f := newOrchFixture(t, client, inv)

	out, err := f.orch.Authorize(context.Background(), inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(106), out.Number)
	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)
	assert.NotEqual(t, "99999999999999", out.CAE)
}

func TestAuthorize_NotaDeCreditoAnulaOriginal(t *testing.T) {
	orig := facturaB()
	orig.Number = 50
	orig.FiscalStatus = entity.FiscalStatusAuthorized
	orig.AuthorityStatus = entity.AuthorityStatusApproved
	orig.CAE = "71279083310050"

	nc := facturaB()
	nc.CbteTipo = 8
	nc.Associated = []entity.AssociatedDocument{{CbteTipo: 6, PointOfSale: 1, Number: 50}}

	f := newOrchFixture(t, newFakeClient(104), orig, nc)

	out, err := f.orch.Authorize(context.Background(), nc.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.FiscalStatusAuthorized, out.FiscalStatus)
	assert.Equal(t, int64(1), out.Number, "la serie de notas de crédito es independiente")

	require.Len(t, f.client.requests, 1)
	require.Len(t, f.client.requests[0].Associated, 1)
	assert.Equal(t, int64(50), f.client.requests[0].Associated[0].Number)

	cancelled := f.invoices.get(t, orig.ID)
	assert.Equal(t, entity.FiscalStatusCancelled, cancelled.FiscalStatus)
	assert.Equal(t, nc.ID, cancelled.CancelledByID)
	assert.Equal(t, 1, f.tx.calls, "NC y anulación van en la misma transacción")
}

func TestAuthorize_SinCertificado(t *testing.T) {
	inv := facturaB()
	f := newOrchFixture(t, newFakeClient(104), inv)
	f.provider.err = domain.ErrNoCertificate

	_, err := f.orch.Authorize(context.Background(), inv.ID)
	require.ErrorIs(t, err, domain.ErrNoCertificate)

	stored := f.invoices.get(t, inv.ID)
	assert.Equal(t, entity.FiscalStatusPendingAuth, stored.FiscalStatus)
	assert.Equal(t, 1, stored.RetryCount)
	requests, lasts, queries := f.client.counts()
	assert.Zero(t, requests+lasts+queries)
}

func TestAuthorize_ValidacionesLocalesSinRed(t *testing.T) {
	t.Run("totales inconsistentes", func(t *testing.T) {
		inv := facturaB()
		inv.TotalAmount = d("1300")
		f := newOrchFixture(t, newFakeClient(104), inv)

		_, err := f.orch.Authorize(context.Background(), inv.ID)
		require.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Zero(t, f.provider.calls)
	})
	t.Run("punto de venta no habilitado", func(t *testing.T) {
		inv := facturaB()
		inv.PointOfSale = 3
		f := newOrchFixture(t, newFakeClient(104), inv)

		_, err := f.orch.Authorize(context.Background(), inv.ID)
		require.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.Zero(t, f.provider.calls)
	})
	t.Run("comprobante interno", func(t *testing.T) {
		inv := facturaB()
		inv.Channel = entity.ChannelInternal
		inv.FiscalStatus = entity.FiscalStatusInternal
		f := newOrchFixture(t, newFakeClient(104), inv)

		_, err := f.orch.Authorize(context.Background(), inv.ID)
		require.ErrorIs(t, err, domain.ErrInvalidInput)
	})
	t.Run("inexistente", func(t *testing.T) {
		f := newOrchFixture(t, newFakeClient(104))
		_, err := f.orch.Authorize(context.Background(), "nope")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestProcessAsync(t *testing.T) {
	inv := facturaB()
	f := newOrchFixture(t, newFakeClient(104), inv)

	f.orch.ProcessAsync(inv.ID)
	f.orch.Wait()

	stored := f.invoices.get(t, inv.ID)
	assert.Equal(t, entity.FiscalStatusAuthorized, stored.FiscalStatus)
	assert.Equal(t, int64(105), stored.Number)
}
