package afip

import (
	"errors"
	"fmt"
)

// Taxonomía de errores del cliente AFIP. Un rechazo de negocio (Resultado R) NO es
// un error: viaja como AuthorizationResult.
var (
	// ErrCertificate certificado o llave mal formados o que no forman par. Fatal: requiere recarga.
	ErrCertificate = errors.New("afip: certificado o llave privada inválidos")
	// ErrAuthentication WSAA rechazó el login, la respuesta no trae token/sign o el token fue invalidado (600/601).
	ErrAuthentication = errors.New("afip: autenticación WSAA fallida")
	// ErrTransport HTTP no-2xx, SOAP Fault o XML ilegible. Reintentable.
	ErrTransport = errors.New("afip: error de transporte")
	// ErrTimeout la llamada no respondió a tiempo: AFIP pudo haberla procesado. Conciliar antes de reintentar.
	ErrTimeout = errors.New("afip: timeout, resultado incierto")
)

// FaultError error informado por AFIP (SOAP Fault o bloque Errors/Err).
// Kind es uno de los sentinels anteriores y se expone vía Unwrap.
type FaultError struct {
	Kind    error
	Code    string
	Message string
	Raw     string
}

func (e *FaultError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: [%s] %s", e.Kind, e.Code, e.Message)
}

func (e *FaultError) Unwrap() error { return e.Kind }

// IsRetryable indica si el error admite reintento automático (con backoff).
// ErrCertificate nunca se reintenta; ErrTimeout exige conciliación previa.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrAuthentication) || errors.Is(err, ErrTimeout)
}
