package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/abdullazmat/pos-sub003/internal/application/billing"
	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
	"github.com/abdullazmat/pos-sub003/internal/infrastructure/postgres"
	httpRouter "github.com/abdullazmat/pos-sub003/internal/interfaces/http"
	"github.com/abdullazmat/pos-sub003/pkg/config"
	"github.com/abdullazmat/pos-sub003/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("afip_env", cfg.AFIP.Environment).
		Msg("iniciando aplicación")

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexión a PostgreSQL")
	}
	defer pool.Close()

	invoiceRepo := postgres.NewInvoiceRepository(pool)
	saleRepo := postgres.NewSaleRepository(pool)
	businessRepo := postgres.NewBusinessRepository(pool)
	pointRepo := postgres.NewPointOfSaleRepository(pool)
	certRepo := postgres.NewCertificateRepository(pool)
	txRunner := postgres.NewTxRunner(pool)

	// AFIP: un transporte y un firmante compartidos; un cliente por certificado de negocio.
	transport := afip.NewTransport(cfg.AFIP.Timeout, log.Component("afip.transport"))
	registry := billing.NewClientRegistry(businessRepo, certRepo, billing.AFIPSettings{
		LoginURL:     cfg.AFIP.LoginURL(),
		InvoicingURL: cfg.AFIP.InvoicingURL(),
		Service:      cfg.AFIP.Service,
		TokenTTL:     cfg.AFIP.TokenTTL,
	}, transport, afip.NewCMSSigner(), log.Component("afip.registry"))
	defer registry.Close()

	// Un lock por serie compartido por orquestador y anulaciones.
	locks := billing.NewSequenceLocks()
	orchestrator := billing.NewOrchestrator(
		invoiceRepo, pointRepo, registry, txRunner, locks,
		billing.OrchestratorConfig{}, log.Component("billing.orchestrator"),
	)

	// Worker de reintentos: recupera los PENDING_AUTH que quedaron sin CAE.
	retryWorker := billing.NewRetryWorker(invoiceRepo, orchestrator, billing.RetryWorkerConfig{
		Interval:     cfg.Retry.Interval,
		PendingAfter: cfg.Retry.PendingAfter,
		BatchSize:    cfg.Retry.BatchSize,
		MaxAttempts:  cfg.Retry.MaxAttempts,
	}, log.Component("billing.retry"))
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	retryWorker.Start(workerCtx)

	invoiceUC := billing.NewInvoiceUseCase(invoiceRepo, saleRepo, orchestrator, locks, log.Component("billing.invoice"))
	receiptUC := billing.NewReceiptUseCase(saleRepo, invoiceRepo)
	afipUC := billing.NewAFIPUseCase(registry)
	certUC := billing.NewCertificateUseCase(certRepo, businessRepo, registry, log.Component("billing.certificate"))

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "POS Fiscal API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Invoices:     invoiceUC,
		Receipts:     receiptUC,
		AFIP:         afipUC,
		Certificates: certUC,
		JWTSecret:    cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	// Primero se corta el worker; después se esperan las autorizaciones en vuelo.
	retryWorker.Stop()
	orchestrator.Wait()

	log.Info().Msg("aplicación detenida")
}
