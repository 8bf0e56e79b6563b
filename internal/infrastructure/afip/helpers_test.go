package afip_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"html"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
)

const testCUIT = "20123456786"

// ── Certificados de prueba ────────────────────────────────────────────────────

type testMaterial struct {
	certPEM []byte
	keyPEM  []byte
	cert    *x509.Certificate
	key     *rsa.PrivateKey
}

var (
	materialOnce sync.Once
	materialA    testMaterial
	materialB    testMaterial
)

// testMaterials genera dos pares autofirmados (RSA 2048) una sola vez por corrida.
func testMaterials(t *testing.T) (testMaterial, testMaterial) {
	t.Helper()
	materialOnce.Do(func() {
		materialA = newMaterial("CUIT "+testCUIT, 1)
		materialB = newMaterial("CUIT 30712345671", 2)
	})
	require.NotNil(t, materialA.cert, "no se pudo generar el certificado de prueba")
	return materialA, materialB
}

func newMaterial(serialNumber string, serial int64) testMaterial {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return testMaterial{}
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "pos-test", SerialNumber: serialNumber, Country: []string{"AR"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(72 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return testMaterial{}
	}
	cert, _ := x509.ParseCertificate(der)
	return testMaterial{
		certPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		keyPEM:  pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}),
		cert:    cert,
		key:     key,
	}
}

func testPair(t *testing.T) *afip.CertificatePair {
	t.Helper()
	a, _ := testMaterials(t)
	pair, err := afip.LoadPair(a.certPEM, a.keyPEM)
	require.NoError(t, err)
	return pair
}

// ── Reloj controlable ─────────────────────────────────────────────────────────

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Now()} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ── AFIP simulado ─────────────────────────────────────────────────────────────

// fakeAFIP atiende WSAA en /wsaa y WSFEv1 en /wsfe, contando llamadas por operación.
type fakeAFIP struct {
	srv *httptest.Server

	mu      sync.Mutex
	hits    map[string]int
	bodies  map[string][]string
	actions []string

	loginDelay   time.Duration
	loginExpiry  func() time.Time
	loginHandler func(w http.ResponseWriter) bool // true si respondió
	wsfe         map[string]func(body string) (int, string)
}

func newFakeAFIP(t *testing.T) *fakeAFIP {
	t.Helper()
	f := &fakeAFIP{
		hits:   map[string]int{},
		bodies: map[string][]string{},
		wsfe:   map[string]func(string) (int, string){},
		loginExpiry: func() time.Time {
			return time.Now().Add(12 * time.Hour)
		},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAFIP) LoginURL() string { return f.srv.URL + "/wsaa" }
func (f *fakeAFIP) WSFEURL() string  { return f.srv.URL + "/wsfe" }

func (f *fakeAFIP) Hits(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[op]
}

func (f *fakeAFIP) LastBody(op string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[op]
	if len(b) == 0 {
		return ""
	}
	return b[len(b)-1]
}

func (f *fakeAFIP) Handle(op string, h func(body string) (int, string)) {
	f.mu.Lock()
	f.wsfe[op] = h
	f.mu.Unlock()
}

func (f *fakeAFIP) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	body := string(raw)
	action := strings.Trim(r.Header.Get("SOAPAction"), `"`)
	op := "loginCms"
	if r.URL.Path == "/wsfe" {
		op = strings.TrimPrefix(action, "http://ar.gov.afip.dif.FEV1/")
	}

	f.mu.Lock()
	f.hits[op]++
	f.bodies[op] = append(f.bodies[op], body)
	f.actions = append(f.actions, action)
	handler := f.wsfe[op]
	loginHandler := f.loginHandler
	delay := f.loginDelay
	expiry := f.loginExpiry
	f.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	if op == "loginCms" {
		time.Sleep(delay)
		if loginHandler != nil && loginHandler(w) {
			return
		}
		_, _ = io.WriteString(w, loginResponse("TOKEN-"+fmt.Sprint(f.Hits("loginCms")), "SIGN", expiry()))
		return
	}
	if handler == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	status, resp := handler(body)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp)
}

// ── Fixtures ──────────────────────────────────────────────────────────────────

func loginResponse(token, sign string, expires time.Time) string {
	inner := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<loginTicketResponse version="1.0"><header><source>CN=wsaahomo, O=AFIP, C=AR</source><destination>SERIALNUMBER=CUIT ` + testCUIT + `, CN=pos-test</destination>` +
		`<uniqueId>123456</uniqueId><generationTime>` + expires.Add(-12*time.Hour).Format(time.RFC3339) + `</generationTime>` +
		`<expirationTime>` + expires.Format(time.RFC3339) + `</expirationTime></header>` +
		`<credentials><token>` + token + `</token><sign>` + sign + `</sign></credentials></loginTicketResponse>`
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body>` +
		`<loginCmsResponse xmlns="http://wsaa.view.ua.seg.afip.gov"><loginCmsReturn>` + html.EscapeString(inner) +
		`</loginCmsReturn></loginCmsResponse></soapenv:Body></soapenv:Envelope>`
}

func wsaaFault(code, msg string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><soapenv:Fault>` +
		`<faultcode xmlns:ns1="http://xml.apache.org/axis/">` + code + `</faultcode><faultstring>` + msg + `</faultstring>` +
		`</soapenv:Fault></soapenv:Body></soapenv:Envelope>`
}

func wsfeEnvelope(op, result string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">` +
		`<soap:Body><` + op + `Response xmlns="http://ar.gov.afip.dif.FEV1/"><` + op + `Result>` + result +
		`</` + op + `Result></` + op + `Response></soap:Body></soap:Envelope>`
}

// caeApproved respuesta aprobada del escenario de referencia (Factura B 1-105).
const caeApproved = `<FeCabResp><Cuit>20123456786</Cuit><PtoVta>1</PtoVta><CbteTipo>6</CbteTipo>` +
	`<FchProceso>20260305101010</FchProceso><CantReg>1</CantReg><Resultado>A</Resultado><Reproceso>N</Reproceso></FeCabResp>` +
	`<FeDetResp><FECAEDetResponse><Concepto>1</Concepto><DocTipo>99</DocTipo><DocNro>0</DocNro>` +
	`<CbteDesde>105</CbteDesde><CbteHasta>105</CbteHasta><CbteFch>20260305</CbteFch><Resultado>A</Resultado>` +
	`<CAE>71279083318327</CAE><CAEFchVto>20260315</CAEFchVto></FECAEDetResponse></FeDetResp>`

// caeRejected rechazo con observación 10016.
const caeRejected = `<FeCabResp><Cuit>20123456786</Cuit><PtoVta>1</PtoVta><CbteTipo>6</CbteTipo>` +
	`<FchProceso>20260305101010</FchProceso><CantReg>1</CantReg><Resultado>R</Resultado><Reproceso>N</Reproceso></FeCabResp>` +
	`<FeDetResp><FECAEDetResponse><Concepto>1</Concepto><DocTipo>99</DocTipo><DocNro>0</DocNro>` +
	`<CbteDesde>105</CbteDesde><CbteHasta>105</CbteHasta><CbteFch>20260305</CbteFch><Resultado>R</Resultado>` +
	`<Observaciones><Obs><Code>10016</Code><Msg>CUIT not authorized</Msg></Obs></Observaciones>` +
	`<CAE></CAE><CAEFchVto></CAEFchVto></FECAEDetResponse></FeDetResp>`

const tokenExpired = `<Errors><Err><Code>600</Code><Msg>ValidacionDeToken: No validaron las fechas del token GenTime, ExpTime, NowUTC</Msg></Err></Errors>`

const lastNumber104 = `<PtoVta>1</PtoVta><CbteTipo>6</CbteTipo><CbteNro>104</CbteNro>`

const queryFound = `<ResultGet><Concepto>1</Concepto><DocTipo>99</DocTipo><DocNro>0</DocNro><CbteDesde>105</CbteDesde>` +
	`<CbteHasta>105</CbteHasta><CbteFch>20260305</CbteFch><ImpTotal>1210</ImpTotal><Resultado>A</Resultado>` +
	`<CodAutorizacion>71279083318327</CodAutorizacion><EmisionTipo>CAE</EmisionTipo><FchVto>20260315</FchVto>` +
	`<FchProceso>20260305101010</FchProceso><PtoVta>1</PtoVta><CbteTipo>6</CbteTipo></ResultGet>`

const queryNotFound = `<Errors><Err><Code>602</Code><Msg>No existen datos en nuestros registros para los parametros ingresados.</Msg></Err></Errors>`

func nopLogger() zerolog.Logger { return zerolog.Nop() }
