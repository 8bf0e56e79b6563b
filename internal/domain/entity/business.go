package entity

import "time"

// Business representa al emisor (tenant) frente a AFIP.
type Business struct {
	ID                 string
	Name               string
	CUIT               string
	CondicionIVA       int // condición del emisor (1 = RI, 6 = monotributo)
	DefaultPointOfSale int
	DefaultCbteTipo    int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
