package afip

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// argentina zona horaria de los servicios AFIP (sin horario de verano).
var argentina = time.FixedZone("ART", -3*60*60)

// breakdownTolerance diferencia admitida por redondeo entre alícuotas y totales.
var breakdownTolerance = decimal.RequireFromString("0.01")

// Credential ticket de acceso WSAA (token + sign). Se usa solo mientras no venza.
type Credential struct {
	Token       string
	Sign        string
	GeneratedAt time.Time
	ExpiresAt   time.Time
}

// ValidAt indica si la credencial puede usarse en t, dejando margin antes del vencimiento.
func (c *Credential) ValidAt(t time.Time, margin time.Duration) bool {
	return c != nil && c.Token != "" && t.Add(margin).Before(c.ExpiresAt)
}

// VatRate alícuota de IVA discriminada (AlicIva).
type VatRate struct {
	ID     int
	Base   decimal.Decimal
	Amount decimal.Decimal
}

// AssociatedDocument comprobante asociado (CbteAsoc), usado en notas de crédito.
type AssociatedDocument struct {
	CbteTipo    int
	PointOfSale int
	Number      int64
	CUIT        string
	Date        *time.Time
}

// AuthorizationRequest datos de un comprobante para FECAESolicitar.
// Se pide CAE de a un comprobante: CbteDesde == CbteHasta == Number.
type AuthorizationRequest struct {
	PointOfSale          int
	CbteTipo             int
	Number               int64
	Concepto             int
	DocTipo              int
	DocNro               int64
	IssueDate            time.Time
	ServiceFrom          *time.Time
	ServiceTo            *time.Time
	PaymentDue           *time.Time
	NetAmount            decimal.Decimal
	TaxAmount            decimal.Decimal
	ExemptAmount         decimal.Decimal
	NonTaxedAmount       decimal.Decimal
	OtherTaxesAmount     decimal.Decimal
	TotalAmount          decimal.Decimal
	Currency             string          // vacío = PES
	ExchangeRate         decimal.Decimal // cero = 1
	CondicionIVAReceptor int             // 0 = no informar
	VatBreakdown         []VatRate
	Associated           []AssociatedDocument
}

// Validate controla lo mínimo para no enviar un pedido que AFIP rechazaría por forma.
func (r AuthorizationRequest) Validate() error {
	var problems []string
	if r.PointOfSale <= 0 {
		problems = append(problems, "punto de venta inválido")
	}
	if r.CbteTipo <= 0 {
		problems = append(problems, "tipo de comprobante inválido")
	}
	if r.Number <= 0 {
		problems = append(problems, "número de comprobante no asignado")
	}
	if r.IssueDate.IsZero() {
		problems = append(problems, "fecha de emisión vacía")
	}
	if len(r.VatBreakdown) > 0 {
		var sum decimal.Decimal
		for _, v := range r.VatBreakdown {
			sum = sum.Add(v.Base).Add(v.Amount)
		}
		expected := r.NetAmount.Add(r.TaxAmount)
		if sum.Sub(expected).Abs().GreaterThan(breakdownTolerance) {
			problems = append(problems, fmt.Sprintf("alícuotas (%s) no suman neto + IVA (%s)", sum.StringFixed(2), expected.StringFixed(2)))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("afip: pedido de CAE inválido: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Issue error u observación informada por AFIP, normalizada (Err, Obs, Evt o Fault).
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

func (i Issue) String() string {
	if i.Code == "" {
		return i.Message
	}
	return i.Code + ": " + i.Message
}

// Approval resultado aprobado (Resultado A).
type Approval struct {
	CAE            string
	CAEExpiry      string // yyyymmdd tal como lo devuelve AFIP
	ProcessingMode string // CAE
	Reprocessed    bool
	Observations   []Issue
}

// ExpiryDate parsea CAEExpiry.
func (a *Approval) ExpiryDate() (time.Time, error) {
	return time.ParseInLocation("20060102", a.CAEExpiry, argentina)
}

// Rejection rechazo de negocio (Resultado R). No es un error: queda atado a ese número.
type Rejection struct {
	ErrorCode    string
	Message      string
	Observations []Issue
}

// AuthorizationResult valor con exactamente una variante: Approved o Rejected.
type AuthorizationResult struct {
	Approved *Approval
	Rejected *Rejection
}

// IsApproved indica si AFIP otorgó CAE.
func (r *AuthorizationResult) IsApproved() bool {
	return r != nil && r.Approved != nil
}

// AuthorizationStatus estado de un comprobante según FECompConsultar.
type AuthorizationStatus struct {
	PointOfSale    int
	CbteTipo       int
	Number         int64
	CAE            string
	CAEExpiry      string
	ProcessingMode string
	Result         string // A / R
	IssueDate      string
	Total          decimal.Decimal
}

// ServerStatus resultado de FEDummy.
type ServerStatus struct {
	AppServer  string
	DbServer   string
	AuthServer string
}

// OK indica si los tres componentes responden "OK".
func (s ServerStatus) OK() bool {
	return s.AppServer == "OK" && s.DbServer == "OK" && s.AuthServer == "OK"
}
