package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/abdullazmat/pos-sub003/internal/application/billing"
)

var (
	_ InvoiceService     = (*billing.InvoiceUseCase)(nil)
	_ ReceiptService     = (*billing.ReceiptUseCase)(nil)
	_ AFIPService        = (*billing.AFIPUseCase)(nil)
	_ CertificateService = (*billing.CertificateUseCase)(nil)
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Invoices     InvoiceService
	Receipts     ReceiptService
	AFIP         AFIPService
	Certificates CertificateService
	JWTSecret    string
}

// Router registra las rutas de la API. Todas requieren Bearer Token.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret))

	// Comprobantes
	invoices := api.Group("/invoices")
	invoiceHandler := NewInvoiceHandler(deps.Invoices)
	invoices.Post("/", invoiceHandler.Create)
	invoices.Post("/:id/authorize", invoiceHandler.Authorize)
	invoices.Get("/:id/fiscal-status", invoiceHandler.FiscalStatus)
	invoices.Post("/:id/credit-note", RequireRole(RoleOwner), invoiceHandler.CreditNote)
	invoices.Post("/:id/void", RequireRole(RoleOwner), invoiceHandler.Void)

	// Impresión
	receiptHandler := NewReceiptHandler(deps.Receipts)
	api.Get("/sales/:id/receipt", receiptHandler.Receipt)

	// AFIP (consultas directas y certificado)
	afipGroup := api.Group("/afip")
	afipHandler := NewAFIPHandler(deps.AFIP)
	afipGroup.Get("/last-number", afipHandler.LastNumber)
	afipGroup.Get("/invoices/:pos/:type/:number", afipHandler.Invoice)
	afipGroup.Get("/status", afipHandler.Status)

	certHandler := NewCertificateHandler(deps.Certificates)
	afipGroup.Post("/certificate", RequireRole(RoleOwner), certHandler.Upload)
	afipGroup.Get("/certificate", certHandler.Get)
}
