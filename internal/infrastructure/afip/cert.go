// Carga y validación del par certificado/llave usado para firmar el ticket de acceso WSAA.

package afip

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"

	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

// CertificatePair par certificado X.509 + llave RSA validado. Inmutable una vez construido.
type CertificatePair struct {
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
	CertPEM     []byte
	KeyPEM      []byte
}

// LoadPair parsea certificado y llave en PEM y verifica que formen par.
// Si keyPEM está vacío se busca la llave dentro de certPEM (archivo combinado).
func LoadPair(certPEM, keyPEM []byte) (*CertificatePair, error) {
	if len(keyPEM) == 0 {
		keyPEM = certPEM
	}
	cert, err := parseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	key, keyBlock, err := parsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}
	if err := MatchKey(cert, key); err != nil {
		return nil, err
	}
	return &CertificatePair{
		Certificate: cert,
		PrivateKey:  key,
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
		KeyPEM:      pem.EncodeToMemory(keyBlock),
	}, nil
}

// LoadFromFiles carga el par desde archivos PEM (certificado y llave por separado, o combinados).
func LoadFromFiles(certPath, keyPath string) (*CertificatePair, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("%w: leer certificado: %v", ErrCertificate, err)
	}
	var keyPEM []byte
	if keyPath != "" {
		keyPEM, err = os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("%w: leer llave: %v", ErrCertificate, err)
		}
	}
	return LoadPair(certPEM, keyPEM)
}

// LoadFromP12 carga el par desde un .p12/.pfx. El password puede ser vacío.
func LoadFromP12(path, password string) (*CertificatePair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: leer p12: %v", ErrCertificate, err)
	}
	return ParseP12(data, password)
}

// ParseP12 decodifica un PKCS#12 en memoria.
func ParseP12(data []byte, password string) (*CertificatePair, error) {
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("%w: decodificar p12: %v", ErrCertificate, err)
	}
	rsaKey, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: la llave del p12 no es RSA", ErrCertificate)
	}
	if err := MatchKey(cert, rsaKey); err != nil {
		return nil, err
	}
	return &CertificatePair{
		Certificate: cert,
		PrivateKey:  rsaKey,
		CertPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
		KeyPEM:      pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rsaKey)}),
	}, nil
}

// MatchKey verifica que el módulo RSA del certificado sea el de la llave privada.
func MatchKey(cert *x509.Certificate, key *rsa.PrivateKey) error {
	if cert == nil || key == nil {
		return fmt.Errorf("%w: certificado o llave ausentes", ErrCertificate)
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: el certificado no tiene llave pública RSA", ErrCertificate)
	}
	if pub.N.Cmp(key.N) != 0 || pub.E != key.E {
		return fmt.Errorf("%w: el certificado no corresponde a la llave privada (módulo distinto)", ErrCertificate)
	}
	return nil
}

// Subject devuelve el DN del titular.
func (p *CertificatePair) Subject() string { return p.Certificate.Subject.String() }

// Serial número de serie en hexadecimal.
func (p *CertificatePair) Serial() string { return p.Certificate.SerialNumber.Text(16) }

// NotBefore inicio de vigencia.
func (p *CertificatePair) NotBefore() time.Time { return p.Certificate.NotBefore }

// NotAfter fin de vigencia.
func (p *CertificatePair) NotAfter() time.Time { return p.Certificate.NotAfter }

// Fingerprint SHA-256 del DER en hexadecimal.
func (p *CertificatePair) Fingerprint() string {
	h := sha256.Sum256(p.Certificate.Raw)
	return hex.EncodeToString(h[:])
}

// IsValidAt indica si el certificado está vigente en t.
func (p *CertificatePair) IsValidAt(t time.Time) bool {
	return !t.Before(p.Certificate.NotBefore) && !t.After(p.Certificate.NotAfter)
}

// CUIT extrae la CUIT del SERIALNUMBER del subject ("CUIT 20123456786"), como emite AFIP.
// Vacío si el certificado no la informa.
func (p *CertificatePair) CUIT() string {
	sn := strings.TrimSpace(p.Certificate.Subject.SerialNumber)
	sn = strings.TrimPrefix(strings.ToUpper(sn), "CUIT")
	cuit := pkgafip.NormalizeCUIT(sn)
	if len(cuit) != 11 {
		return ""
	}
	return cuit
}

// ── helpers ───────────────────────────────────────────────────────────────────

func parseCertificatePEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no se encontró bloque CERTIFICATE", ErrCertificate)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: parsear certificado: %v", ErrCertificate, err)
		}
		return cert, nil
	}
}

func parsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, *pem.Block, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, nil, fmt.Errorf("%w: no se encontró la llave privada", ErrCertificate)
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: parsear llave PKCS#1: %v", ErrCertificate, err)
			}
			return key, block, nil
		case "PRIVATE KEY":
			k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: parsear llave PKCS#8: %v", ErrCertificate, err)
			}
			key, ok := k.(*rsa.PrivateKey)
			if !ok {
				return nil, nil, fmt.Errorf("%w: la llave no es RSA", ErrCertificate)
			}
			return key, block, nil
		case "ENCRYPTED PRIVATE KEY":
			return nil, nil, fmt.Errorf("%w: llave cifrada, exportar sin contraseña o usar .p12", ErrCertificate)
		}
	}
}
