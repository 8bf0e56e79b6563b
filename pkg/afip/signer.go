package afip

import (
	"crypto/rsa"
	"crypto/x509"
)

// Signer envuelve un documento en un CMS SignedData (PKCS#7) y lo devuelve en base64,
// listo para el parámetro "in0" de loginCms.
type Signer interface {
	// Sign firma content con el certificado y su llave privada. El certificado queda
	// embebido y los atributos autenticados incluyen content-type, message-digest y signing-time.
	Sign(content []byte, cert *x509.Certificate, key *rsa.PrivateKey) (string, error)
}
