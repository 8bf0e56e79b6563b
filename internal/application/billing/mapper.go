package billing

import (
	"fmt"
	"strconv"
	"time"

	"github.com/abdullazmat/pos-sub003/internal/application/dto"
	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

// toAuthorizationRequest traduce el comprobante persistido al pedido de CAE.
func toAuthorizationRequest(inv *entity.Invoice) (afip.AuthorizationRequest, error) {
	var docNro int64
	if digits := pkgafip.NormalizeCUIT(inv.DocNro); digits != "" {
		n, err := strconv.ParseInt(digits, 10, 64)
		if err != nil {
			return afip.AuthorizationRequest{}, fmt.Errorf("%w: número de documento %q", domain.ErrInvalidInput, inv.DocNro)
		}
		docNro = n
	}

	req := afip.AuthorizationRequest{
		PointOfSale:          inv.PointOfSale,
		CbteTipo:             inv.CbteTipo,
		Number:               inv.Number,
		Concepto:             inv.Concepto,
		DocTipo:              inv.DocTipo,
		DocNro:               docNro,
		IssueDate:            inv.IssueDate,
		ServiceFrom:          inv.ServiceFrom,
		ServiceTo:            inv.ServiceTo,
		PaymentDue:           inv.PaymentDue,
		NetAmount:            inv.NetAmount,
		TaxAmount:            inv.TaxAmount,
		ExemptAmount:         inv.ExemptAmount,
		NonTaxedAmount:       inv.NonTaxedAmount,
		OtherTaxesAmount:     inv.OtherTaxesAmount,
		TotalAmount:          inv.TotalAmount,
		Currency:             inv.Currency,
		ExchangeRate:         inv.ExchangeRate,
		CondicionIVAReceptor: inv.CondicionIVAReceptor,
	}
	for _, t := range inv.Taxes {
		req.VatBreakdown = append(req.VatBreakdown, afip.VatRate{ID: t.IvaID, Base: t.BaseImp, Amount: t.Importe})
	}
	for _, a := range inv.Associated {
		req.Associated = append(req.Associated, afip.AssociatedDocument{
			CbteTipo: a.CbteTipo, PointOfSale: a.PointOfSale, Number: a.Number, CUIT: a.CUIT, Date: a.Date,
		})
	}
	return req, nil
}

func joinObservations(issues []afip.Issue) string {
	out := ""
	for i, o := range issues {
		if i > 0 {
			out += "; "
		}
		out += o.String()
	}
	return out
}

const isoDate = "2006-01-02"

func parseOptionalDate(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(isoDate, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s debe tener formato yyyy-mm-dd", domain.ErrInvalidInput, field)
	}
	return &t, nil
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(isoDate)
}

func toFiscalStatusResponse(inv *entity.Invoice) *dto.FiscalStatusResponse {
	return &dto.FiscalStatusResponse{
		ID:              inv.ID,
		Channel:         inv.Channel,
		PointOfSale:     inv.PointOfSale,
		CbteTipo:        inv.CbteTipo,
		Number:          inv.Number,
		TotalAmount:     inv.TotalAmount,
		FiscalStatus:    inv.FiscalStatus,
		AuthorityStatus: inv.AuthorityStatus,
		CAE:             inv.CAE,
		CAEExpiry:       formatOptionalDate(inv.CAEExpiry),
		Observations:    inv.Observations,
		RejectionCode:   inv.RejectionCode,
		RetryCount:      inv.RetryCount,
		NextRetryAt:     inv.NextRetryAt,
		LastError:       inv.LastError,
		CancelledByID:   inv.CancelledByID,
	}
}
