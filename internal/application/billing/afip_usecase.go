package billing

import (
	"context"
	"fmt"

	"github.com/abdullazmat/pos-sub003/internal/application/dto"
	"github.com/abdullazmat/pos-sub003/internal/domain"
	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

// AFIPUseCase consultas directas a WSFEv1 con el certificado del negocio (diagnóstico y soporte).
type AFIPUseCase struct {
	clients ClientProvider
}

// NewAFIPUseCase construye el caso de uso.
func NewAFIPUseCase(clients ClientProvider) *AFIPUseCase {
	return &AFIPUseCase{clients: clients}
}

// LastNumber último número autorizado de la serie.
func (uc *AFIPUseCase) LastNumber(ctx context.Context, businessID string, pointOfSale, cbteTipo int) (*dto.LastNumberResponse, error) {
	if err := checkSeries(pointOfSale, cbteTipo); err != nil {
		return nil, err
	}
	client, err := uc.clients.ClientFor(ctx, businessID)
	if err != nil {
		return nil, err
	}
	n, err := client.LastAuthorizedNumber(ctx, pointOfSale, cbteTipo)
	if err != nil {
		return nil, err
	}
	return &dto.LastNumberResponse{PointOfSale: pointOfSale, CbteTipo: cbteTipo, Number: n}, nil
}

// QueryStatus estado de un comprobante en AFIP. Found = false si AFIP no lo tiene.
func (uc *AFIPUseCase) QueryStatus(ctx context.Context, businessID string, pointOfSale, cbteTipo int, number int64) (*dto.AuthorityInvoiceResponse, error) {
	if err := checkSeries(pointOfSale, cbteTipo); err != nil {
		return nil, err
	}
	if number <= 0 {
		return nil, fmt.Errorf("%w: número de comprobante inválido", domain.ErrInvalidInput)
	}
	client, err := uc.clients.ClientFor(ctx, businessID)
	if err != nil {
		return nil, err
	}
	st, err := client.QueryAuthorizationStatus(ctx, pointOfSale, cbteTipo, number)
	if err != nil {
		return nil, err
	}
	out := &dto.AuthorityInvoiceResponse{PointOfSale: pointOfSale, CbteTipo: cbteTipo, Number: number}
	if st == nil {
		return out, nil
	}
	out.Found = true
	out.Result = st.Result
	out.CAE = st.CAE
	out.CAEExpiry = st.CAEExpiry
	out.ProcessingMode = st.ProcessingMode
	out.IssueDate = st.IssueDate
	out.Total = st.Total
	return out, nil
}

// ServerStatus FEDummy (no requiere ticket).
func (uc *AFIPUseCase) ServerStatus(ctx context.Context, businessID string) (*dto.ServerStatusResponse, error) {
	client, err := uc.clients.ClientFor(ctx, businessID)
	if err != nil {
		return nil, err
	}
	st, err := client.ServerStatus(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.ServerStatusResponse{AppServer: st.AppServer, DbServer: st.DbServer, AuthServer: st.AuthServer, OK: st.OK()}, nil
}

func checkSeries(pointOfSale, cbteTipo int) error {
	if pointOfSale < 1 || pointOfSale > 99998 {
		return fmt.Errorf("%w: punto de venta %d fuera de rango", domain.ErrInvalidInput, pointOfSale)
	}
	if !pkgafip.IsValidCbteTipo(cbteTipo) {
		return fmt.Errorf("%w: tipo de comprobante %d no soportado", domain.ErrInvalidInput, cbteTipo)
	}
	return nil
}
