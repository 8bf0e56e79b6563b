// Package afip contiene catálogos y validaciones alineados a las tablas de
// parámetros del Web Service de Factura Electrónica WSFEv1 (AFIP/ARCA, Argentina).
package afip

// =============================================================================
// Tipos de comprobante (FEParamGetTiposCbte)
// =============================================================================

const (
	CbteFacturaA     = 1
	CbteNotaDebitoA  = 2
	CbteNotaCreditoA = 3
	CbteFacturaB     = 6
	CbteNotaDebitoB  = 7
	CbteNotaCreditoB = 8
	CbteFacturaC     = 11
	CbteNotaDebitoC  = 12
	CbteNotaCreditoC = 13
)

var cbteLabels = map[int]string{
	CbteFacturaA:     "FACTURA A",
	CbteNotaDebitoA:  "NOTA DE DEBITO A",
	CbteNotaCreditoA: "NOTA DE CREDITO A",
	CbteFacturaB:     "FACTURA B",
	CbteNotaDebitoB:  "NOTA DE DEBITO B",
	CbteNotaCreditoB: "NOTA DE CREDITO B",
	CbteFacturaC:     "FACTURA C",
	CbteNotaDebitoC:  "NOTA DE DEBITO C",
	CbteNotaCreditoC: "NOTA DE CREDITO C",
}

// CbteLabel devuelve la leyenda impresa del tipo de comprobante ("" si no está catalogado).
func CbteLabel(cbteTipo int) string {
	return cbteLabels[cbteTipo]
}

// IsValidCbteTipo indica si el tipo de comprobante está soportado.
func IsValidCbteTipo(cbteTipo int) bool {
	_, ok := cbteLabels[cbteTipo]
	return ok
}

// IsCreditNote indica si el comprobante es nota de crédito (requiere CbtesAsoc).
func IsCreditNote(cbteTipo int) bool {
	return cbteTipo == CbteNotaCreditoA || cbteTipo == CbteNotaCreditoB || cbteTipo == CbteNotaCreditoC
}

// CreditNoteFor devuelve la nota de crédito de la misma clase que la factura (0 si no aplica).
func CreditNoteFor(cbteTipo int) int {
	switch cbteTipo {
	case CbteFacturaA:
		return CbteNotaCreditoA
	case CbteFacturaB:
		return CbteNotaCreditoB
	case CbteFacturaC:
		return CbteNotaCreditoC
	}
	return 0
}

// IsClassC indica comprobantes clase C (monotributo): no discriminan IVA.
func IsClassC(cbteTipo int) bool {
	return cbteTipo == CbteFacturaC || cbteTipo == CbteNotaDebitoC || cbteTipo == CbteNotaCreditoC
}

// =============================================================================
// Tipos de documento del receptor (FEParamGetTiposDoc)
// =============================================================================

const (
	DocTipoCUIT            = 80
	DocTipoCUIL            = 86
	DocTipoDNI             = 96
	DocTipoConsumidorFinal = 99
)

// ValidDocTipos tipos de documento aceptados para el receptor.
var ValidDocTipos = map[int]bool{
	DocTipoCUIT: true, DocTipoCUIL: true, DocTipoDNI: true, DocTipoConsumidorFinal: true,
}

// =============================================================================
// Conceptos (FEParamGetTiposConcepto)
// =============================================================================

const (
	ConceptoProductos          = 1
	ConceptoServicios          = 2
	ConceptoProductosServicios = 3
)

// RequiresServiceDates indica si el concepto exige FchServDesde/Hasta y FchVtoPago.
func RequiresServiceDates(concepto int) bool {
	return concepto == ConceptoServicios || concepto == ConceptoProductosServicios
}

// =============================================================================
// Alícuotas de IVA (FEParamGetTiposIva)
// =============================================================================

const (
	IvaID0    = 3
	IvaID10_5 = 4
	IvaID21   = 5
	IvaID27   = 6
	IvaID5    = 8
	IvaID2_5  = 9
)

// IvaRates porcentaje de cada id de alícuota, como string decimal.
var IvaRates = map[int]string{
	IvaID0:    "0",
	IvaID10_5: "10.5",
	IvaID21:   "21",
	IvaID27:   "27",
	IvaID5:    "5",
	IvaID2_5:  "2.5",
}

// IvaIDForRate devuelve el id de alícuota para un porcentaje ("21", "10.5"); 0 si no existe.
func IvaIDForRate(rate string) int {
	for id, r := range IvaRates {
		if r == rate {
			return id
		}
	}
	return 0
}

// =============================================================================
// Condición frente al IVA del receptor (FEParamGetCondicionIvaReceptor)
// =============================================================================

const (
	CondIVAResponsableInscripto = 1
	CondIVAExento               = 4
	CondIVAConsumidorFinal      = 5
	CondIVAMonotributo          = 6
	CondIVANoCategorizado       = 7
)

// ValidCondicionIVAReceptor condiciones aceptadas.
var ValidCondicionIVAReceptor = map[int]bool{
	CondIVAResponsableInscripto: true,
	CondIVAExento:               true,
	CondIVAConsumidorFinal:      true,
	CondIVAMonotributo:          true,
	CondIVANoCategorizado:       true,
}

// =============================================================================
// Monedas y formatos
// =============================================================================

const (
	MonedaPesos = "PES"
	// DateLayout formato de fecha de WSFEv1 (yyyymmdd).
	DateLayout = "20060102"
)

// Códigos de error de WSFEv1 con semántica propia.
const (
	ErrCodeTokenInvalid = 600 // ValidacionDeToken: no apareció CUIT en lista de relaciones
	ErrCodeTokenExpired = 601 // token o firma vencidos / inválidos
	ErrCodeNoResults    = 602 // sin resultados para la consulta
	ErrCodeServiceStart = 500
	ErrCodeServiceEnd   = 502
)
