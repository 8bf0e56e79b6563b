package fiscal

import (
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/pkg/afip"
)

// Action acción de impresión resultante.
type Action string

const (
	ActionPrintFiscal      Action = "PRINT_FISCAL"
	ActionPrintProvisional Action = "PRINT_PROVISIONAL"
	ActionPrintInternal    Action = "PRINT_INTERNAL"
	ActionBlock            Action = "BLOCK"
)

// Etiquetas de estado informadas junto con la decisión.
const (
	TagApproved     = "APPROVED"
	TagPendingAuth  = "PENDING_AUTH"
	TagInternal     = "INTERNAL"
	TagCanceledByNC = "CANCELED_BY_NC"
	TagRejected     = "REJECTED"
	TagAuthRequired = "AUTH_REQUIRED"
)

// Leyendas del documento impreso.
const (
	LabelProvisional = "COMPROBANTE PROVISORIO - CAE EN TRAMITE"
	LabelInternal    = "DOCUMENTO NO VALIDO COMO FACTURA"
	labelFiscal      = "COMPROBANTE ELECTRONICO"
)

// Decision resultado derivado (no se persiste).
type Decision struct {
	Action Action `json:"action"`
	Label  string `json:"label"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Printable indica si la decisión permite imprimir algo.
func (d Decision) Printable() bool {
	return d.Action != ActionBlock
}

// Decide mapea los campos fiscales del comprobante a una acción de impresión.
// Es pura y total: ante datos ambiguos o incompletos bloquea.
func Decide(inv *entity.Invoice, sale *entity.Sale) Decision {
	if inv == nil {
		if sale != nil && sale.Channel == entity.ChannelInternal {
			return Decision{Action: ActionPrintInternal, Label: LabelInternal, Status: TagInternal}
		}
		return block(TagAuthRequired, "la venta no tiene comprobante asociado")
	}

	channel := inv.Channel
	if channel == "" && sale != nil {
		channel = sale.Channel
	}
	switch channel {
	case entity.ChannelInternal:
		return Decision{Action: ActionPrintInternal, Label: LabelInternal, Status: TagInternal}
	case entity.ChannelFiscal:
	default:
		return block(TagAuthRequired, "canal de emisión desconocido")
	}

	switch inv.FiscalStatus {
	case entity.FiscalStatusCancelled, entity.FiscalStatusVoided:
		return block(TagCanceledByNC, "comprobante anulado")
	}

	if inv.AuthorityStatus == entity.AuthorityStatusRejected || inv.FiscalStatus == entity.FiscalStatusRejected {
		reason := inv.Observations
		if reason == "" {
			reason = "rechazado por AFIP"
		}
		return block(TagRejected, reason)
	}

	if inv.FiscalStatus == entity.FiscalStatusAuthorized && inv.HasCAE() {
		label := afip.CbteLabel(inv.CbteTipo)
		if label == "" {
			label = labelFiscal
		}
		return Decision{Action: ActionPrintFiscal, Label: label, Status: TagApproved}
	}

	if inv.FiscalStatus == entity.FiscalStatusPendingAuth ||
		inv.AuthorityStatus == entity.AuthorityStatusSent ||
		inv.AuthorityStatus == entity.AuthorityStatusPending {
		return Decision{Action: ActionPrintProvisional, Label: LabelProvisional, Status: TagPendingAuth}
	}

	return block(TagAuthRequired, "el comprobante no tiene CAE")
}

func block(status, reason string) Decision {
	return Decision{Action: ActionBlock, Status: status, Reason: reason}
}
