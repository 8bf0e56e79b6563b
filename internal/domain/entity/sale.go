package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sale es la venta del POS a la que se asocia un comprobante. Solo se leen los
// campos que intervienen en la decisión de impresión.
type Sale struct {
	ID         string
	BusinessID string
	InvoiceID  string
	Channel    string // ver Channel*
	Total      decimal.Decimal
	CreatedAt  time.Time
}
