package entity

import "time"

// PointOfSale punto de venta habilitado en AFIP para el negocio.
// Cada uno tiene numeración independiente por tipo de comprobante.
type PointOfSale struct {
	ID           string
	BusinessID   string
	Number       int    // PtoVta
	EmissionType string // "CAE" (Web Service); los CAEA no se emiten desde este sistema
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
