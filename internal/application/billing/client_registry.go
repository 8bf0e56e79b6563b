package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abdullazmat/pos-sub003/internal/domain"
	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
	"github.com/abdullazmat/pos-sub003/internal/domain/repository"
	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

// AFIPSettings endpoints y parámetros comunes a todos los negocios.
type AFIPSettings struct {
	LoginURL     string
	InvoicingURL string
	Service      string
	TokenTTL     time.Duration
}

// ClientRegistry mantiene un InvoicingClient por negocio, atado a la huella del
// certificado activo: si el negocio sube uno nuevo, el cliente (y su ticket) se descarta.
type ClientRegistry struct {
	businesses repository.BusinessRepository
	certs      repository.CertificateRepository
	settings   AFIPSettings
	transport  afip.Caller
	signer     pkgafip.Signer
	log        zerolog.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	fingerprint string
	client      *afip.InvoicingClient
	tokens      *afip.TokenManager
}

var _ ClientProvider = (*ClientRegistry)(nil)

// NewClientRegistry construye el registro. transport y signer se comparten entre negocios.
func NewClientRegistry(
	businesses repository.BusinessRepository,
	certs repository.CertificateRepository,
	settings AFIPSettings,
	transport afip.Caller,
	signer pkgafip.Signer,
	log zerolog.Logger,
) *ClientRegistry {
	return &ClientRegistry{
		businesses: businesses,
		certs:      certs,
		settings:   settings,
		transport:  transport,
		signer:     signer,
		log:        log,
		entries:    make(map[string]*registryEntry),
	}
}

// ClientFor devuelve el cliente del negocio, creándolo con el certificado activo.
func (r *ClientRegistry) ClientFor(ctx context.Context, businessID string) (AuthorityClient, error) {
	cert, err := r.certs.GetActive(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, domain.ErrNoCertificate
	}

	if c := r.cached(businessID, cert.Fingerprint); c != nil {
		return c, nil
	}

	// El armado (DB, parseo del par) corre fuera del lock; se revisa el mapa al insertar.
	entry, log, err := r.build(ctx, businessID, cert)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[businessID]; ok {
		if e.fingerprint == cert.Fingerprint {
			// Otro llamador lo armó mientras tanto.
			entry.tokens.Close()
			return e.client, nil
		}
		e.tokens.Close()
	}
	r.entries[businessID] = entry
	log.Info().Str("fingerprint", cert.Fingerprint).Msg("billing: cliente AFIP creado")
	return entry.client, nil
}

func (r *ClientRegistry) cached(businessID, fingerprint string) AuthorityClient {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[businessID]; ok && e.fingerprint == fingerprint {
		return e.client
	}
	return nil
}

func (r *ClientRegistry) build(ctx context.Context, businessID string, cert *entity.Certificate) (*registryEntry, zerolog.Logger, error) {
	business, err := r.businesses.GetByID(ctx, businessID)
	if err != nil {
		return nil, r.log, err
	}
	if business == nil {
		return nil, r.log, fmt.Errorf("%w: negocio %s", domain.ErrNotFound, businessID)
	}
	pair, err := afip.LoadPair([]byte(cert.CertPEM), []byte(cert.KeyPEM))
	if err != nil {
		return nil, r.log, err
	}

	log := r.log.With().Str("business_id", businessID).Str("cuit", business.CUIT).Logger()
	tokens := afip.NewTokenManager(afip.TokenManagerConfig{
		LoginURL: r.settings.LoginURL,
		Service:  r.settings.Service,
		TTL:      r.settings.TokenTTL,
	}, pair, r.signer, r.transport, afip.NewTokenCache(), log)

	client, err := afip.NewInvoicingClient(r.settings.InvoicingURL, business.CUIT, tokens, r.transport, log)
	if err != nil {
		tokens.Close()
		return nil, log, err
	}
	return &registryEntry{fingerprint: cert.Fingerprint, client: client, tokens: tokens}, log, nil
}

// Invalidate descarta el cliente del negocio; el próximo ClientFor relee el certificado.
func (r *ClientRegistry) Invalidate(businessID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[businessID]; ok {
		e.tokens.Close()
		delete(r.entries, businessID)
	}
}

// Close descarta todos los clientes.
func (r *ClientRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		e.tokens.Close()
		delete(r.entries, id)
	}
}

// Len cantidad de clientes activos.
func (r *ClientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
