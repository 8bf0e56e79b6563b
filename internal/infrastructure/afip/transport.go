package afip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout tiempo máximo por llamada a WSAA/WSFEv1.
const DefaultTimeout = 15 * time.Second

const maxResponseBytes = 1 << 20 // 1 MB

// Caller puerto mínimo de transporte SOAP (permite inyectar dobles en tests).
type Caller interface {
	Call(ctx context.Context, url string, body []byte, action string) ([]byte, error)
}

// Transport POST SOAP sobre HTTPS con SOAPAction y timeout fijo.
// Las respuestas 2xx se devuelven tal cual (incluidos los errores de negocio de AFIP).
type Transport struct {
	httpClient *http.Client
	log        zerolog.Logger
}

// NewTransport construye el transporte. timeout <= 0 usa DefaultTimeout.
func NewTransport(timeout time.Duration, log zerolog.Logger) *Transport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Transport{
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// NewTransportWithClient usa un http.Client provisto (proxy, TLS propio, tests).
func NewTransportWithClient(c *http.Client, log zerolog.Logger) *Transport {
	return &Transport{httpClient: c, log: log}
}

// Call envía body a url. Errores:
//   - ErrTimeout si venció el plazo o se abandonó la llamada (AFIP pudo procesarla);
//   - *FaultError{Kind: ErrTransport} en respuestas no-2xx, con faultstring si se pudo extraer;
//   - ErrTransport en fallas de red.
func (t *Transport) Call(ctx context.Context, url string, body []byte, action string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: crear request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `"`+action+`"`)

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			t.log.Warn().Str("url", url).Str("action", action).Dur("elapsed", time.Since(start)).Msg("afip: timeout, resultado incierto")
			return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, action, err)
		}
		return nil, fmt.Errorf("%w: llamada HTTP fallida: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %s: leer respuesta: %v", ErrTimeout, action, err)
		}
		return nil, fmt.Errorf("%w: leer respuesta: %v", ErrTransport, err)
	}

	t.log.Debug().Str("action", action).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("afip: respuesta")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		fe := &FaultError{Kind: ErrTransport, Code: fmt.Sprintf("HTTP %d", resp.StatusCode), Raw: string(raw)}
		if f := ParseFault(raw); f != nil {
			fe.Code, fe.Message = f.Code, f.Message
		} else {
			fe.Message = http.StatusText(resp.StatusCode)
		}
		return nil, fe
	}
	return raw, nil
}

// isTimeout detecta vencimiento de plazo o cancelación local. En ambos casos el
// pedido pudo haber llegado a AFIP.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if ctx.Err() != nil {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
