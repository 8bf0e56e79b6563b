package afip

import (
	"fmt"
	"unicode"
)

// pesos para el dígito verificador de la CUIT/CUIL (módulo 11), aplicados a los
// 10 primeros dígitos de izquierda a derecha.
var cuitWeights = [10]int{5, 4, 3, 2, 7, 6, 5, 4, 3, 2}

// ValidateCUIT valida que la CUIT (con o sin guiones) tenga 11 dígitos y
// dígito verificador correcto. Acepta "20-12345678-6" o "20123456786".
func ValidateCUIT(cuit string) error {
	digits := extractDigits(cuit)
	if len(digits) != 11 {
		return fmt.Errorf("afip: CUIT debe tener 11 dígitos, se encontraron %d", len(digits))
	}
	expected, err := ComputeCUITCheckDigit(string(digits[:10]))
	if err != nil {
		return err
	}
	if digits[10] != expected {
		return fmt.Errorf("afip: dígito verificador de la CUIT inválido: esperado %c, recibido %c", expected, digits[10])
	}
	return nil
}

// ComputeCUITCheckDigit calcula el dígito verificador para los 10 primeros dígitos.
// Un resto de 10 no tiene dígito válido: AFIP reasigna el prefijo (23/24), por eso es error.
func ComputeCUITCheckDigit(base string) (byte, error) {
	digits := extractDigits(base)
	if len(digits) < 10 {
		return 0, fmt.Errorf("afip: se requieren 10 dígitos para calcular el verificador, se encontraron %d", len(digits))
	}
	var sum int
	for i, d := range digits[:10] {
		sum += int(d-'0') * cuitWeights[i]
	}
	switch v := 11 - sum%11; v {
	case 11:
		return '0', nil
	case 10:
		return 0, fmt.Errorf("afip: combinación sin dígito verificador válido")
	default:
		return byte('0' + v), nil
	}
}

// NormalizeCUIT devuelve solo los dígitos de la CUIT, tal como la espera WSFEv1 (campo Cuit / DocNro).
func NormalizeCUIT(cuit string) string {
	return string(extractDigits(cuit))
}

func extractDigits(s string) []byte {
	var out []byte
	for _, r := range s {
		if unicode.IsDigit(r) {
			out = append(out, byte(r))
		}
	}
	return out
}
