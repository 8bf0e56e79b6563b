package afip

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

// CredentialSource provee credenciales WSAA (TokenManager en producción).
type CredentialSource interface {
	Credential(ctx context.Context) (*Credential, error)
	Invalidate()
}

// InvoicingClient fachada WSFEv1: credencial + envelope + transporte + parseo.
type InvoicingClient struct {
	url       string
	cuit      int64
	tokens    CredentialSource
	transport Caller
	log       zerolog.Logger
}

// NewInvoicingClient construye el cliente para el CUIT emisor.
func NewInvoicingClient(wsfeURL, cuit string, tokens CredentialSource, transport Caller, log zerolog.Logger) (*InvoicingClient, error) {
	if err := pkgafip.ValidateCUIT(cuit); err != nil {
		return nil, err
	}
	n, err := strconv.ParseInt(pkgafip.NormalizeCUIT(cuit), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("afip: CUIT inválida: %w", err)
	}
	return &InvoicingClient{url: wsfeURL, cuit: n, tokens: tokens, transport: transport, log: log}, nil
}

// RequestAuthorizationCode pide CAE para un comprobante. Un rechazo de AFIP vuelve como
// AuthorizationResult.Rejected con error nil; solo hay error por autenticación,
// transporte o timeout (en ese caso, conciliar con QueryAuthorizationStatus antes de reintentar).
func (c *InvoicingClient) RequestAuthorizationCode(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var result *AuthorizationResult
	err := c.withCredential(ctx, func(cred *Credential) error {
		body, err := BuildCAERequest(cred, c.cuit, req)
		if err != nil {
			return err
		}
		raw, err := c.transport.Call(ctx, c.url, body, SOAPAction(OpCAESolicitar))
		if err != nil {
			return err
		}
		result, err = ParseCAEResponse(raw)
		return err
	})
	if err != nil {
		return nil, err
	}

	ev := c.log.Info().Int("pto_vta", req.PointOfSale).Int("cbte_tipo", req.CbteTipo).Int64("cbte_nro", req.Number)
	if result.IsApproved() {
		ev.Str("cae", result.Approved.CAE).Str("cae_vto", result.Approved.CAEExpiry).Msg("afip: CAE otorgado")
	} else {
		ev.Str("error_code", result.Rejected.ErrorCode).Str("message", result.Rejected.Message).Msg("afip: comprobante rechazado")
	}
	return result, nil
}

// LastAuthorizedNumber devuelve el último número autorizado para (punto de venta, tipo).
// 0 si todavía no se emitió ninguno.
func (c *InvoicingClient) LastAuthorizedNumber(ctx context.Context, pointOfSale, cbteTipo int) (int64, error) {
	var n int64
	err := c.withCredential(ctx, func(cred *Credential) error {
		body, err := BuildLastNumberRequest(cred, c.cuit, pointOfSale, cbteTipo)
		if err != nil {
			return err
		}
		raw, err := c.transport.Call(ctx, c.url, body, SOAPAction(OpUltimoAutoriz))
		if err != nil {
			return err
		}
		n, err = ParseLastNumberResponse(raw)
		return err
	})
	return n, err
}

// QueryAuthorizationStatus consulta un comprobante en AFIP. Idempotente.
// Devuelve nil, nil si AFIP no lo tiene registrado.
func (c *InvoicingClient) QueryAuthorizationStatus(ctx context.Context, pointOfSale, cbteTipo int, number int64) (*AuthorizationStatus, error) {
	var st *AuthorizationStatus
	err := c.withCredential(ctx, func(cred *Credential) error {
		body, err := BuildStatusQueryRequest(cred, c.cuit, pointOfSale, cbteTipo, number)
		if err != nil {
			return err
		}
		raw, err := c.transport.Call(ctx, c.url, body, SOAPAction(OpCompConsultar))
		if err != nil {
			return err
		}
		st, err = ParseStatusQueryResponse(raw)
		return err
	})
	return st, err
}

// ServerStatus consulta FEDummy (no requiere credencial).
func (c *InvoicingClient) ServerStatus(ctx context.Context) (*ServerStatus, error) {
	body, err := BuildDummyRequest()
	if err != nil {
		return nil, err
	}
	raw, err := c.transport.Call(ctx, c.url, body, SOAPAction(OpDummy))
	if err != nil {
		return nil, err
	}
	return ParseDummyResponse(raw)
}

// withCredential ejecuta op con una credencial vigente. Si AFIP rechaza el token
// (600/601) se invalida y se reintenta una sola vez con un login nuevo; AFIP no
// procesa el comprobante cuando rechaza el token, así que repetir es seguro.
func (c *InvoicingClient) withCredential(ctx context.Context, op func(*Credential) error) error {
	for attempt := 0; ; attempt++ {
		cred, err := c.tokens.Credential(ctx)
		if err != nil {
			return err
		}
		err = op(cred)
		if err == nil {
			return nil
		}

		var fe *FaultError
		switch {
		case errors.Is(err, ErrAuthentication):
			c.tokens.Invalidate()
			if attempt == 0 {
				c.log.Warn().Err(err).Msg("afip: token rechazado, se renueva una vez")
				continue
			}
		case errors.As(err, &fe) && fe.Kind == ErrTransport && fe.Code != "":
			// Fault explícito del servicio: la credencial puede estar comprometida.
			c.tokens.Invalidate()
		}
		return err
	}
}
