package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound          = errors.New("recurso no encontrado")
	ErrInvalidInput      = errors.New("entrada inválida")
	ErrDuplicate         = errors.New("recurso duplicado")
	ErrForbidden         = errors.New("acceso denegado")
	ErrConflict          = errors.New("conflicto con el estado actual")
	ErrInvalidTransition = errors.New("transición de estado fiscal inválida")
	ErrFiscalBlocked     = errors.New("comprobante bloqueado fiscalmente")
	ErrNoCertificate     = errors.New("el negocio no tiene certificado AFIP cargado")
)
