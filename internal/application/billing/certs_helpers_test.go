package billing_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/abdullazmat/pos-sub003/internal/domain/entity"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

// selfSigned certificado autofirmado con el CUIT en el serialNumber del subject, como los de AFIP.
func selfSigned(t *testing.T, cuit string, notBefore, notAfter time.Time) (certPEM, keyPEM string) {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "pos-test", SerialNumber: "CUIT " + cuit},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &testKey.PublicKey, testKey)
	require.NoError(t, err)
	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(testKey)}))
	return certPEM, keyPEM
}

type memCerts struct {
	mu    sync.Mutex
	byBiz map[string]*entity.Certificate
	saves int
}

func newMemCerts() *memCerts { return &memCerts{byBiz: map[string]*entity.Certificate{}} }

func (m *memCerts) Save(_ context.Context, c *entity.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	cp := *c
	m.byBiz[c.BusinessID] = &cp
	return nil
}

func (m *memCerts) GetActive(_ context.Context, businessID string) (*entity.Certificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byBiz[businessID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

type memBusinesses map[string]*entity.Business

func (m memBusinesses) GetByID(_ context.Context, id string) (*entity.Business, error) {
	b, ok := m[id]
	if !ok {
		return nil, nil
	}
	return b, nil
}

type countingInvalidator struct{ ids []string }

func (c *countingInvalidator) Invalidate(businessID string) { c.ids = append(c.ids, businessID) }
