package billing

import (
	"context"

	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
)

// AuthorityClient operaciones WSFEv1 que usa la capa de aplicación.
// *afip.InvoicingClient la implementa; los tests usan dobles que cuentan llamadas.
type AuthorityClient interface {
	RequestAuthorizationCode(ctx context.Context, req afip.AuthorizationRequest) (*afip.AuthorizationResult, error)
	LastAuthorizedNumber(ctx context.Context, pointOfSale, cbteTipo int) (int64, error)
	QueryAuthorizationStatus(ctx context.Context, pointOfSale, cbteTipo int, number int64) (*afip.AuthorizationStatus, error)
	ServerStatus(ctx context.Context) (*afip.ServerStatus, error)
}

var _ AuthorityClient = (*afip.InvoicingClient)(nil)

// ClientProvider resuelve el cliente AFIP de un negocio (uno por certificado).
type ClientProvider interface {
	ClientFor(ctx context.Context, businessID string) (AuthorityClient, error)
}

// FiscalTxRunner ejecuta fn dentro de una transacción con el repo de comprobantes atado a ella.
type FiscalTxRunner interface {
	RunFiscal(ctx context.Context, fn func(invoiceRepo repository.InvoiceRepository) error) error
}
