// Package fiscal contiene las reglas de dominio de la facturación electrónica AFIP/ARCA:
// máquina de estados del comprobante, validación previa al pedido de CAE y la
// decisión de impresión.
package fiscal

import (
	"fmt"

	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
)

// transiciones permitidas; "" es un comprobante recién creado.
var transitions = map[string][]string{
	"":                             {entity.FiscalStatusInternal, entity.FiscalStatusPendingAuth},
	entity.FiscalStatusPendingAuth: {entity.FiscalStatusAuthorized, entity.FiscalStatusRejected, entity.FiscalStatusVoided},
	entity.FiscalStatusAuthorized:  {entity.FiscalStatusCancelled},
	entity.FiscalStatusInternal:    nil,
	entity.FiscalStatusRejected:    nil,
	entity.FiscalStatusCancelled:   nil,
	entity.FiscalStatusVoided:      nil,
}

// CanTransition indica si el comprobante puede pasar de from a to.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal indica si el estado ya no admite transiciones, salvo AUTHORIZED -> CANCELLED
// por nota de crédito.
func IsTerminal(status string) bool {
	switch status {
	case entity.FiscalStatusPendingAuth, "":
		return false
	}
	return true
}

// Transition aplica el cambio de estado o devuelve domain.ErrInvalidTransition.
func Transition(inv *entity.Invoice, to string) error {
	if inv == nil {
		return fmt.Errorf("%w: comprobante nulo", domain.ErrInvalidTransition)
	}
	if !CanTransition(inv.FiscalStatus, to) {
		return fmt.Errorf("%w: %q -> %q", domain.ErrInvalidTransition, inv.FiscalStatus, to)
	}
	inv.FiscalStatus = to
	return nil
}
