package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Canal de emisión del comprobante.
const (
	ChannelFiscal   = "FISCAL"   // comprobante electrónico con CAE
	ChannelInternal = "INTERNAL" // ticket interno, sin validez fiscal
)

// Estados fiscales del comprobante (ciclo de vida local).
const (
	FiscalStatusInternal    = "INTERNAL"     // terminal para ventas no fiscales
	FiscalStatusPendingAuth = "PENDING_AUTH" // esperando CAE
	FiscalStatusAuthorized  = "AUTHORIZED"   // CAE obtenido (terminal de éxito)
	FiscalStatusRejected    = "REJECTED"     // rechazado por AFIP; el número no se reintenta
	FiscalStatusCancelled   = "CANCELLED"    // anulado por nota de crédito
	FiscalStatusVoided      = "VOIDED"       // anulado administrativamente
)

// Último estado observado frente a AFIP (WSFEv1).
const (
	AuthorityStatusNone     = ""
	AuthorityStatusSent     = "SENT"     // solicitud enviada sin respuesta (timeout): resultado ambiguo
	AuthorityStatusPending  = "PENDING"  // pendiente de envío o de reintento
	AuthorityStatusApproved = "APPROVED" // Resultado A
	AuthorityStatusRejected = "REJECTED" // Resultado R
)

// Invoice representa un comprobante electrónico (factura o nota de crédito) frente a AFIP/ARCA.
// Number = 0 significa "sin número asignado": se toma del último autorizado + 1 al primer intento.
type Invoice struct {
	ID                   string
	BusinessID           string
	SaleID               string
	Channel              string
	PointOfSale          int
	CbteTipo             int
	Number               int64
	Concepto             int
	DocTipo              int
	DocNro               string
	CondicionIVAReceptor int // 0 = no informar
	IssueDate            time.Time
	ServiceFrom          *time.Time
	ServiceTo            *time.Time
	PaymentDue           *time.Time
	Currency             string
	ExchangeRate         decimal.Decimal
	NetAmount            decimal.Decimal // ImpNeto
	TaxAmount            decimal.Decimal // ImpIVA
	ExemptAmount         decimal.Decimal // ImpOpEx
	NonTaxedAmount       decimal.Decimal // ImpTotConc
	OtherTaxesAmount     decimal.Decimal // ImpTrib
	TotalAmount          decimal.Decimal // ImpTotal
	Taxes                []InvoiceTax
	Associated           []AssociatedDocument

	FiscalStatus    string
	AuthorityStatus string
	CAE             string
	CAEExpiry       *time.Time
	ProcessingMode  string // EmisionTipo devuelto por AFIP (CAE / CAEA)
	Observations    string // observaciones o motivo de rechazo (texto plano)
	RejectionCode   string

	RetryCount  int
	NextRetryAt *time.Time
	LastError   string

	CancelledByID string // nota de crédito que anuló este comprobante
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// InvoiceTax alícuota de IVA discriminada (AlicIva).
type InvoiceTax struct {
	IvaID   int
	BaseImp decimal.Decimal
	Importe decimal.Decimal
}

// AssociatedDocument comprobante asociado (CbteAsoc), obligatorio en notas de crédito/débito.
type AssociatedDocument struct {
	CbteTipo    int
	PointOfSale int
	Number      int64
	CUIT        string
	Date        *time.Time
}

// IsFiscal indica si el comprobante se emite por el canal fiscal.
func (i *Invoice) IsFiscal() bool {
	return i != nil && i.Channel == ChannelFiscal
}

// HasCAE indica si el comprobante ya tiene CAE registrado.
func (i *Invoice) HasCAE() bool {
	return i != nil && i.CAE != ""
}
