package billing

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
)

// RetryDelay espera antes del intento n (1 = primer reintento): 1 min, 2, 4, ... tope 30 min.
func RetryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Minute),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(30*time.Minute),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Authorizer lo que el worker necesita del orquestador.
type Authorizer interface {
	Authorize(ctx context.Context, invoiceID string) (*entity.Invoice, error)
	Reconcile(ctx context.Context, invoiceID string) (*entity.Invoice, error)
}

// RetryWorkerConfig parámetros del barrido.
type RetryWorkerConfig struct {
	Interval     time.Duration // 0 = 1 min
	PendingAfter time.Duration // antigüedad mínima de un PENDING_AUTH
	BatchSize    int           // 0 = 20
	MaxAttempts  int           // 0 = 10
	Timeout      time.Duration // por comprobante; 0 = DefaultAuthorizeTimeout
	Now          func() time.Time
}

// RetryWorker reintenta los comprobantes que quedaron PENDING_AUTH (timeouts, AFIP caída,
// certificado vencido). Procesa de a uno: la serie de numeración no admite paralelismo.
type RetryWorker struct {
	invoices repository.InvoiceRepository
	auth     Authorizer
	cfg      RetryWorkerConfig
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetryWorker construye el worker sin arrancarlo.
func NewRetryWorker(invoices repository.InvoiceRepository, auth Authorizer, cfg RetryWorkerConfig, log zerolog.Logger) *RetryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAuthorizeTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RetryWorker{invoices: invoices, auth: auth, cfg: cfg, log: log}
}

// Start lanza el barrido periódico. Llamar a Start con el worker ya corriendo no hace nada.
func (w *RetryWorker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		w.log.Info().Dur("interval", w.cfg.Interval).Msg("billing: worker de reintentos iniciado")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("billing: barrido de reintentos fallido")
				}
			}
		}
	}(w.done)
}

// Stop detiene el barrido y espera a que termine el comprobante en curso.
func (w *RetryWorker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	w.log.Info().Msg("billing: worker de reintentos detenido")
}

// RunOnce procesa un lote de pendientes. Devuelve cuántos quedaron resueltos
// (autorizados o rechazados). Los SENT que agotaron MaxAttempts solo se consultan.
func (w *RetryWorker) RunOnce(ctx context.Context) (int, error) {
	now := w.cfg.Now()
	pending, err := w.invoices.ListRetryable(ctx, now, now.Add(-w.cfg.PendingAfter), w.cfg.MaxAttempts, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, inv := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		run := w.auth.Authorize
		if inv.RetryCount >= w.cfg.MaxAttempts {
			run = w.auth.Reconcile
		}
		one, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		out, err := run(one, inv.ID)
		cancel()
		if err != nil {
			w.log.Warn().Err(err).Str("invoice_id", inv.ID).Int("retry_count", inv.RetryCount+1).Msg("billing: reintento sin CAE")
			continue
		}
		if out != nil && out.FiscalStatus != entity.FiscalStatusPendingAuth {
			resolved++
		}
	}
	if len(pending) > 0 {
		w.log.Info().Int("pending", len(pending)).Int("resolved", resolved).Msg("billing: barrido de reintentos")
	}
	return resolved, nil
}
