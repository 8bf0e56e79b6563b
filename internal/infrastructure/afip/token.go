package afip

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/ucarion/c14n"

	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

// ── TokenCache ────────────────────────────────────────────────────────────────

// TokenCache guarda la credencial vigente de un certificado. Se crea con el cliente
// del negocio y se descarta con Close; no hay caché global.
type TokenCache struct {
	mu     sync.RWMutex
	cred   *Credential
	closed bool
}

// NewTokenCache crea una caché vacía.
func NewTokenCache() *TokenCache {
	return &TokenCache{}
}

// Get devuelve la credencial guardada (puede estar vencida) o nil.
func (c *TokenCache) Get() *Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	return c.cred
}

// Set reemplaza la credencial.
func (c *TokenCache) Set(cred *Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.cred = cred
	}
}

// Invalidate descarta la credencial; el próximo pedido hará login.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.cred = nil
	c.mu.Unlock()
}

// Close descarta la credencial y deja la caché inutilizable.
func (c *TokenCache) Close() {
	c.mu.Lock()
	c.cred = nil
	c.closed = true
	c.mu.Unlock()
}

// ── TokenManager ──────────────────────────────────────────────────────────────

// DefaultTokenTTL horizonte del ticket de acceso.
const DefaultTokenTTL = 12 * time.Hour

// expiryMargin la credencial se considera vencida un poco antes del plazo informado.
const expiryMargin = 2 * time.Minute

// TokenManagerConfig parámetros del login WSAA.
type TokenManagerConfig struct {
	LoginURL string
	Service  string        // wsfe
	TTL      time.Duration // 0 = DefaultTokenTTL
	Now      func() time.Time
	// Backoff espaciado entre logins fallidos; nil = NewLoginBackOff.
	Backoff *backoff.ExponentialBackOff
}

// NewLoginBackOff backoff para logins fallidos: 1 min, x2, tope 30 min, sin jitter y sin fin.
// WSAA penaliza los logins repetidos, por eso el piso es alto.
func NewLoginBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Minute),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(30*time.Minute),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)
	b.Reset()
	return b
}

// TokenManager obtiene y cachea credenciales WSAA para un certificado.
// Un solo login a la vez: los llamadores concurrentes esperan y reutilizan el resultado.
type TokenManager struct {
	cfg       TokenManagerConfig
	pair      *CertificatePair
	signer    pkgafip.Signer
	transport Caller
	cache     *TokenCache
	log       zerolog.Logger

	mu           sync.Mutex // serializa logins
	bo           *backoff.ExponentialBackOff
	blockedUntil time.Time
	lastErr      error
	logins       int
}

// NewTokenManager construye el gestor. cache puede ser nil (se crea una).
func NewTokenManager(cfg TokenManagerConfig, pair *CertificatePair, signer pkgafip.Signer, transport Caller, cache *TokenCache, log zerolog.Logger) *TokenManager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.Service == "" {
		cfg.Service = "wsfe"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Backoff == nil {
		cfg.Backoff = NewLoginBackOff()
	}
	if cache == nil {
		cache = NewTokenCache()
	}
	return &TokenManager{
		cfg:       cfg,
		pair:      pair,
		signer:    signer,
		transport: transport,
		cache:     cache,
		log:       log,
		bo:        cfg.Backoff,
	}
}

// Credential devuelve una credencial vigente, haciendo login solo si hace falta.
// Todas las fallas se informan como ErrAuthentication.
func (m *TokenManager) Credential(ctx context.Context) (*Credential, error) {
	if c := m.cache.Get(); c.ValidAt(m.cfg.Now(), expiryMargin) {
		return c, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.cfg.Now()
	// Otro llamador pudo haber renovado mientras esperábamos el lock.
	if c := m.cache.Get(); c.ValidAt(now, expiryMargin) {
		return c, nil
	}
	if now.Before(m.blockedUntil) {
		return nil, fmt.Errorf("%w: login suspendido hasta %s tras error previo: %v",
			ErrAuthentication, m.blockedUntil.Format(time.RFC3339), m.lastErr)
	}

	cred, err := m.login(ctx, now)
	if err != nil {
		wait := m.bo.NextBackOff()
		m.blockedUntil = now.Add(wait)
		m.lastErr = err
		m.log.Error().Err(err).Dur("retry_in", wait).Msg("afip: login WSAA fallido")
		return nil, err
	}
	m.bo.Reset()
	m.blockedUntil = time.Time{}
	m.lastErr = nil
	m.cache.Set(cred)
	m.log.Info().Time("expires_at", cred.ExpiresAt).Msg("afip: ticket de acceso renovado")
	return cred, nil
}

// Invalidate descarta la credencial cacheada (AFIP la rechazó con 600/601).
func (m *TokenManager) Invalidate() {
	m.cache.Invalidate()
}

// Close libera la caché.
func (m *TokenManager) Close() {
	m.cache.Close()
}

// Logins cantidad de logins efectivamente enviados (diagnóstico).
func (m *TokenManager) Logins() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

func (m *TokenManager) login(ctx context.Context, now time.Time) (*Credential, error) {
	if m.pair == nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, ErrCertificate)
	}
	if !m.pair.IsValidAt(now) {
		return nil, fmt.Errorf("%w: certificado fuera de vigencia (vence %s)", ErrAuthentication, m.pair.NotAfter().Format(time.RFC3339))
	}

	tra, err := BuildLoginTicket(uniqueID(), now, m.cfg.TTL, m.cfg.Service)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	canonical, err := canonicalize(tra)
	if err != nil {
		return nil, fmt.Errorf("%w: canonicalizar TRA: %v", ErrAuthentication, err)
	}
	cms, err := m.signer.Sign(canonical, m.pair.Certificate, m.pair.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: firmar TRA: %w", ErrAuthentication, err)
	}
	body, err := BuildLoginEnvelope(cms)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	m.logins++
	raw, err := m.transport.Call(ctx, m.cfg.LoginURL, body, loginAction)
	if err != nil {
		var fe *FaultError
		if errors.As(err, &fe) {
			// Los faults de WSAA (cms.cert.expired, coe.alreadyAuthenticated, ...) son de autenticación.
			return nil, &FaultError{Kind: ErrAuthentication, Code: fe.Code, Message: fe.Message, Raw: fe.Raw}
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	return ParseLoginResponse(raw, now, m.cfg.TTL)
}

// uniqueID deriva el uniqueId (uint32) del TRA de un UUID aleatorio.
func uniqueID() uint32 {
	id := uuid.New()
	return binary.BigEndian.Uint32(id[:4])
}

// canonicalize aplica C14N al TRA antes de firmarlo.
func canonicalize(data []byte) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}
