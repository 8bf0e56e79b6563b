package entity

import "time"

// Certificate par certificado/llave del negocio para WSAA. Inmutable una vez validado;
// una renovación crea un registro nuevo que pasa a ser el activo.
type Certificate struct {
	ID          string
	BusinessID  string
	CertPEM     string
	KeyPEM      string
	Subject     string
	Serial      string
	Fingerprint string // SHA-256 del DER, hex
	NotBefore   time.Time
	NotAfter    time.Time
	CreatedAt   time.Time
}

// ExpiresWithin indica si el certificado vence dentro de d a partir de now.
func (c *Certificate) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !c.NotAfter.After(now.Add(d))
}
