package afip

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"go.mozilla.org/pkcs7"

	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

var _ pkgafip.Signer = (*CMSSigner)(nil)

// CMSSigner genera el CMS SignedData (PKCS#7) que espera loginCms: contenido embebido,
// certificado del firmante incluido y digest SHA-256.
type CMSSigner struct{}

// NewCMSSigner crea el firmante.
func NewCMSSigner() *CMSSigner {
	return &CMSSigner{}
}

// Sign implementa pkg/afip.Signer. Los atributos autenticados content-type,
// message-digest y signing-time los agrega pkcs7 al firmar.
func (s *CMSSigner) Sign(content []byte, cert *x509.Certificate, key *rsa.PrivateKey) (string, error) {
	if len(content) == 0 {
		return "", fmt.Errorf("afip: contenido a firmar vacío")
	}
	if err := MatchKey(cert, key); err != nil {
		return "", err
	}
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return "", fmt.Errorf("afip: crear SignedData: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		return "", fmt.Errorf("%w: firmar: %v", ErrCertificate, err)
	}
	der, err := sd.Finish()
	if err != nil {
		return "", fmt.Errorf("afip: serializar SignedData: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// SignPair firma con un par ya validado.
func (s *CMSSigner) SignPair(content []byte, pair *CertificatePair) (string, error) {
	if pair == nil {
		return "", fmt.Errorf("%w: par no cargado", ErrCertificate)
	}
	return s.Sign(content, pair.Certificate, pair.PrivateKey)
}
