package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateInvoiceRequest body para POST /api/invoices.
// Channel FISCAL pide CAE en segundo plano; INTERNAL emite un ticket sin validez fiscal.
type CreateInvoiceRequest struct {
	SaleID               string                 `json:"sale_id,omitempty"`
	Channel              string                 `json:"channel"`
	PointOfSale          int                    `json:"point_of_sale"`
	CbteTipo             int                    `json:"cbte_tipo"`
	Concepto             int                    `json:"concepto"`
	DocTipo              int                    `json:"doc_tipo"`
	DocNro               string                 `json:"doc_nro"`
	CondicionIVAReceptor int                    `json:"condicion_iva_receptor,omitempty"`
	IssueDate            string                 `json:"issue_date,omitempty"` // yyyy-mm-dd; vacío = hoy
	ServiceFrom          string                 `json:"service_from,omitempty"`
	ServiceTo            string                 `json:"service_to,omitempty"`
	PaymentDue           string                 `json:"payment_due,omitempty"`
	Currency             string                 `json:"currency,omitempty"`
	ExchangeRate         decimal.Decimal        `json:"exchange_rate,omitempty"`
	NetAmount            decimal.Decimal        `json:"net_amount"`
	TaxAmount            decimal.Decimal        `json:"tax_amount"`
	ExemptAmount         decimal.Decimal        `json:"exempt_amount"`
	NonTaxedAmount       decimal.Decimal        `json:"non_taxed_amount"`
	OtherTaxesAmount     decimal.Decimal        `json:"other_taxes_amount"`
	TotalAmount          decimal.Decimal        `json:"total_amount"`
	Taxes                []InvoiceTaxRequest    `json:"taxes,omitempty"`
	Associated           []AssociatedDocRequest `json:"associated,omitempty"`
}

// InvoiceTaxRequest alícuota de IVA (id AFIP: 3 = 0 %, 4 = 10,5 %, 5 = 21 %, 6 = 27 %, ...).
type InvoiceTaxRequest struct {
	IvaID   int             `json:"iva_id"`
	BaseImp decimal.Decimal `json:"base_imp"`
	Importe decimal.Decimal `json:"importe"`
}

// AssociatedDocRequest comprobante asociado.
type AssociatedDocRequest struct {
	CbteTipo    int    `json:"cbte_tipo"`
	PointOfSale int    `json:"point_of_sale"`
	Number      int64  `json:"number"`
	CUIT        string `json:"cuit,omitempty"`
	Date        string `json:"date,omitempty"`
}

// CreditNoteRequest body para POST /api/invoices/:id/credit-note. Vacío = anulación total.
type CreditNoteRequest struct {
	Reason string `json:"reason,omitempty"`
}

// FiscalStatusResponse estado fiscal para polling:
// GET /api/invoices/:id/fiscal-status. El frontend consulta hasta que fiscal_status
// deje de ser PENDING_AUTH.
type FiscalStatusResponse struct {
	ID              string          `json:"id"`
	Channel         string          `json:"channel"`
	PointOfSale     int             `json:"point_of_sale"`
	CbteTipo        int             `json:"cbte_tipo"`
	Number          int64           `json:"number,omitempty"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	FiscalStatus    string          `json:"fiscal_status"`
	AuthorityStatus string          `json:"authority_status,omitempty"`
	CAE             string          `json:"cae,omitempty"`
	CAEExpiry       string          `json:"cae_expiry,omitempty"` // yyyy-mm-dd
	Observations    string          `json:"observations,omitempty"`
	RejectionCode   string          `json:"rejection_code,omitempty"`
	RetryCount      int             `json:"retry_count"`
	NextRetryAt     *time.Time      `json:"next_retry_at,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	CancelledByID   string          `json:"cancelled_by_id,omitempty"`
}

// ReceiptDecisionResponse decisión de impresión de GET /api/sales/:id/receipt.
type ReceiptDecisionResponse struct {
	SaleID    string `json:"sale_id"`
	InvoiceID string `json:"invoice_id,omitempty"`
	Action    string `json:"action"`
	Label     string `json:"label,omitempty"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	CAE       string `json:"cae,omitempty"`
	CAEExpiry string `json:"cae_expiry,omitempty"`
}

// FiscalBlockedResponse cuerpo del 409 cuando la decisión es BLOCK.
type FiscalBlockedResponse struct {
	Code   string `json:"code"` // FISCAL_BLOCKED
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// UploadCertificateRequest body para POST /api/afip/certificate (PEM en texto).
type UploadCertificateRequest struct {
	CertPEM string `json:"cert_pem"`
	KeyPEM  string `json:"key_pem"`
}

// CertificateResponse metadatos del certificado activo; nunca incluye la llave.
type CertificateResponse struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Serial      string    `json:"serial"`
	Fingerprint string    `json:"fingerprint"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	ExpiresSoon bool      `json:"expires_soon"`
}

// LastNumberResponse GET /api/afip/last-number.
type LastNumberResponse struct {
	PointOfSale int   `json:"point_of_sale"`
	CbteTipo    int   `json:"cbte_tipo"`
	Number      int64 `json:"number"`
}

// AuthorityInvoiceResponse GET /api/afip/invoices/:pos/:type/:number.
type AuthorityInvoiceResponse struct {
	Found          bool            `json:"found"`
	PointOfSale    int             `json:"point_of_sale"`
	CbteTipo       int             `json:"cbte_tipo"`
	Number         int64           `json:"number"`
	Result         string          `json:"result,omitempty"`
	CAE            string          `json:"cae,omitempty"`
	CAEExpiry      string          `json:"cae_expiry,omitempty"`
	ProcessingMode string          `json:"processing_mode,omitempty"`
	IssueDate      string          `json:"issue_date,omitempty"`
	Total          decimal.Decimal `json:"total"`
}

// ServerStatusResponse GET /api/afip/status (FEDummy).
type ServerStatusResponse struct {
	AppServer  string `json:"app_server"`
	DbServer   string `json:"db_server"`
	AuthServer string `json:"auth_server"`
	OK         bool   `json:"ok"`
}
