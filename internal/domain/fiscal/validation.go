package fiscal

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/pkg/afip"
)

// ErrInvalidInvoice agrupa errores de validación del comprobante.
var ErrInvalidInvoice = errors.New("comprobante inválido para AFIP")

// Tolerance diferencia máxima admitida por redondeo entre totales.
var Tolerance = decimal.RequireFromString("0.01")

// WithinTolerance indica si |a - b| <= 0.01.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// BreakdownTotals suma bases e importes de las alícuotas.
func BreakdownTotals(taxes []entity.InvoiceTax) (base, amount decimal.Decimal) {
	for _, t := range taxes {
		base = base.Add(t.BaseImp)
		amount = amount.Add(t.Importe)
	}
	return base, amount
}

// ValidateInvoice valida el comprobante antes de pedir CAE (reglas de WSFEv1).
// Devuelve todos los problemas juntos, envueltos en ErrInvalidInvoice.
func ValidateInvoice(inv *entity.Invoice) error {
	if inv == nil {
		return fmt.Errorf("%w: comprobante nulo", ErrInvalidInvoice)
	}
	var errs []error

	if !inv.IsFiscal() {
		errs = append(errs, fmt.Errorf("el comprobante no es del canal fiscal"))
	}
	if !afip.IsValidCbteTipo(inv.CbteTipo) {
		errs = append(errs, fmt.Errorf("tipo de comprobante %d no soportado", inv.CbteTipo))
	}
	if inv.PointOfSale < 1 || inv.PointOfSale > 99998 {
		errs = append(errs, fmt.Errorf("punto de venta %d fuera de rango", inv.PointOfSale))
	}
	if inv.Number < 0 {
		errs = append(errs, fmt.Errorf("número de comprobante negativo"))
	}
	if inv.Concepto < afip.ConceptoProductos || inv.Concepto > afip.ConceptoProductosServicios {
		errs = append(errs, fmt.Errorf("concepto %d inválido", inv.Concepto))
	}
	if afip.RequiresServiceDates(inv.Concepto) && (inv.ServiceFrom == nil || inv.ServiceTo == nil || inv.PaymentDue == nil) {
		errs = append(errs, fmt.Errorf("servicios: se requieren fechas de servicio desde/hasta y vencimiento de pago"))
	}

	// Receptor.
	if !afip.ValidDocTipos[inv.DocTipo] {
		errs = append(errs, fmt.Errorf("tipo de documento %d no soportado", inv.DocTipo))
	}
	if inv.DocTipo == afip.DocTipoCUIT || inv.DocTipo == afip.DocTipoCUIL {
		if err := afip.ValidateCUIT(inv.DocNro); err != nil {
			errs = append(errs, fmt.Errorf("receptor: %w", err))
		}
	}
	if inv.CondicionIVAReceptor != 0 && !afip.ValidCondicionIVAReceptor[inv.CondicionIVAReceptor] {
		errs = append(errs, fmt.Errorf("condición IVA del receptor %d inválida", inv.CondicionIVAReceptor))
	}
	if inv.CbteTipo == afip.CbteFacturaA && inv.DocTipo != afip.DocTipoCUIT {
		errs = append(errs, fmt.Errorf("factura A requiere receptor identificado por CUIT"))
	}

	// Totales.
	if inv.TotalAmount.IsNegative() || inv.NetAmount.IsNegative() || inv.TaxAmount.IsNegative() {
		errs = append(errs, fmt.Errorf("los importes no pueden ser negativos"))
	}
	sum := inv.NetAmount.Add(inv.TaxAmount).Add(inv.ExemptAmount).Add(inv.NonTaxedAmount).Add(inv.OtherTaxesAmount)
	if !WithinTolerance(sum, inv.TotalAmount) {
		errs = append(errs, fmt.Errorf("total (%s) no coincide con neto + IVA + exento + no gravado + tributos (%s)", inv.TotalAmount.StringFixed(2), sum.StringFixed(2)))
	}

	if afip.IsClassC(inv.CbteTipo) {
		if len(inv.Taxes) > 0 || !inv.TaxAmount.IsZero() {
			errs = append(errs, fmt.Errorf("comprobantes clase C no discriminan IVA"))
		}
	} else if !inv.NetAmount.IsZero() || len(inv.Taxes) > 0 {
		base, amount := BreakdownTotals(inv.Taxes)
		if !WithinTolerance(base.Add(amount), inv.NetAmount.Add(inv.TaxAmount)) {
			errs = append(errs, fmt.Errorf("suma de alícuotas (%s) no coincide con neto + IVA (%s)",
				base.Add(amount).StringFixed(2), inv.NetAmount.Add(inv.TaxAmount).StringFixed(2)))
		}
		for _, t := range inv.Taxes {
			if _, ok := afip.IvaRates[t.IvaID]; !ok {
				errs = append(errs, fmt.Errorf("alícuota de IVA %d desconocida", t.IvaID))
			}
		}
	}

	if afip.IsCreditNote(inv.CbteTipo) && len(inv.Associated) == 0 {
		errs = append(errs, fmt.Errorf("nota de crédito sin comprobante asociado"))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidInvoice}, errs...)...)
	}
	return nil
}
