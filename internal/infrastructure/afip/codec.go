package afip

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	pkgafip "github.com/abdullazmat/pos-sub003/pkg/afip"
)

// ── Decodificación del envelope (unión etiquetada) ────────────────────────────
// AFIP responde con distintos prefijos según el servicio y la versión del stack
// (soap:, soapenv:, S:, sin prefijo con xmlns por defecto, o incluso el resultado suelto).
// Cada forma observada es una variante explícita; lo que no encaja queda como shapeUnparsed.

type envelopeShape int

const (
	shapeUnparsed envelopeShape = iota
	shapePrefixedEnvelope
	shapeDefaultNSEnvelope
	shapeBareResult
	shapeFault
)

func (s envelopeShape) String() string {
	switch s {
	case shapePrefixedEnvelope:
		return "prefixed-envelope"
	case shapeDefaultNSEnvelope:
		return "default-ns-envelope"
	case shapeBareResult:
		return "bare-result"
	case shapeFault:
		return "fault"
	}
	return "unparsed"
}

type decodedEnvelope struct {
	Shape  envelopeShape
	Result *etree.Element // nodo <resultTag>, variantes envelope y bare
	Fault  *Issue         // variante fault
	Reason string         // variante unparsed
}

// decodeEnvelope ubica resultTag (nombre local) dentro de la respuesta.
func decodeEnvelope(raw []byte, resultTag string) decodedEnvelope {
	doc, err := readDocument(raw)
	if err != nil {
		return decodedEnvelope{Shape: shapeUnparsed, Reason: "XML ilegible: " + err.Error()}
	}
	root := doc.Root()
	if root == nil {
		return decodedEnvelope{Shape: shapeUnparsed, Reason: "documento vacío"}
	}

	if root.Tag != "Envelope" {
		if res := findDeep(root, resultTag); res != nil {
			return decodedEnvelope{Shape: shapeBareResult, Result: res}
		}
		return decodedEnvelope{Shape: shapeUnparsed, Reason: "raíz inesperada <" + root.FullTag() + ">"}
	}

	shape := shapeDefaultNSEnvelope
	if root.Space != "" {
		shape = shapePrefixedEnvelope
	}
	body := child(root, "Body")
	if body == nil {
		return decodedEnvelope{Shape: shapeUnparsed, Reason: "envelope sin Body"}
	}
	if f := child(body, "Fault"); f != nil {
		return decodedEnvelope{Shape: shapeFault, Fault: faultIssue(f)}
	}
	res := findDeep(body, resultTag)
	if res == nil {
		return decodedEnvelope{Shape: shapeUnparsed, Reason: "no se encontró <" + resultTag + ">"}
	}
	return decodedEnvelope{Shape: shape, Result: res}
}

// readDocument parsea tolerando ISO-8859-1 (WSAA suele declararlo).
func readDocument(raw []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(label) {
		case "iso-8859-1", "latin1", "latin-1", "windows-1252":
			return charmap.ISO8859_1.NewDecoder().Reader(input), nil
		}
		return input, nil
	}
	if err := doc.ReadFromBytes(bytes.TrimSpace(raw)); err != nil {
		return nil, err
	}
	return doc, nil
}

// ParseFault extrae faultcode/faultstring de una respuesta; nil si no es un Fault.
func ParseFault(raw []byte) *Issue {
	env := decodeEnvelope(raw, "Fault")
	switch env.Shape {
	case shapeFault:
		return env.Fault
	case shapeBareResult:
		return faultIssue(env.Result)
	}
	return nil
}

func faultIssue(f *etree.Element) *Issue {
	code := strings.TrimSpace(textOf(f, "faultcode"))
	msg := strings.TrimSpace(textOf(f, "faultstring"))
	if msg == "" {
		// SOAP 1.2: Code/Value y Reason/Text
		if c := findDeep(f, "Value"); c != nil {
			code = strings.TrimSpace(c.Text())
		}
		if r := findDeep(f, "Text"); r != nil {
			msg = strings.TrimSpace(r.Text())
		}
	}
	return &Issue{Code: code, Message: msg, Raw: rawXML(f)}
}

// ── Normalización de errores/observaciones ────────────────────────────────────

// collectIssues junta Errors/Err, Observaciones/Obs y Events/Evt bajo parent en un único formato.
func collectIssues(parent *etree.Element, container, item string) []Issue {
	c := child(parent, container)
	if c == nil {
		return nil
	}
	var out []Issue
	for _, e := range c.ChildElements() {
		if e.Tag != item {
			continue
		}
		out = append(out, Issue{
			Code:    strings.TrimSpace(textOf(e, "Code")),
			Message: strings.TrimSpace(textOf(e, "Msg")),
			Raw:     rawXML(e),
		})
	}
	return out
}

func joinIssues(issues []Issue) string {
	parts := make([]string, 0, len(issues))
	for _, i := range issues {
		parts = append(parts, i.String())
	}
	return strings.Join(parts, "; ")
}

// classifyErrors devuelve un error de transporte/autenticación si el bloque Errors lo amerita.
// Los códigos 600/601 invalidan el token; 500-502 son fallas internas del servicio.
func classifyErrors(errs []Issue) error {
	for _, e := range errs {
		code, _ := strconv.Atoi(e.Code)
		switch {
		case code == pkgafip.ErrCodeTokenInvalid || code == pkgafip.ErrCodeTokenExpired:
			return &FaultError{Kind: ErrAuthentication, Code: e.Code, Message: e.Message, Raw: e.Raw}
		case code >= pkgafip.ErrCodeServiceStart && code <= pkgafip.ErrCodeServiceEnd:
			return &FaultError{Kind: ErrTransport, Code: e.Code, Message: e.Message, Raw: e.Raw}
		}
	}
	return nil
}

func envelopeError(kind error, env decodedEnvelope) error {
	if env.Shape == shapeFault {
		return &FaultError{Kind: kind, Code: env.Fault.Code, Message: env.Fault.Message, Raw: env.Fault.Raw}
	}
	return &FaultError{Kind: kind, Message: "respuesta no reconocida: " + env.Reason}
}

// ── WSAA ──────────────────────────────────────────────────────────────────────

// ParseLoginResponse extrae token y sign del loginTicketResponse anidado en loginCmsReturn.
// Cualquier falla es ErrAuthentication: sin credencial no hay nada que reintentar en WSFE.
func ParseLoginResponse(raw []byte, now time.Time, ttl time.Duration) (*Credential, error) {
	env := decodeEnvelope(raw, "loginCmsReturn")
	if env.Shape == shapeFault || env.Shape == shapeUnparsed {
		return nil, envelopeError(ErrAuthentication, env)
	}

	// El contenido de loginCmsReturn es otro documento XML (escapado).
	inner, err := readDocument([]byte(env.Result.Text()))
	if err != nil {
		return nil, &FaultError{Kind: ErrAuthentication, Message: "loginTicketResponse ilegible: " + err.Error()}
	}
	ticket := inner.Root()
	if ticket == nil || ticket.Tag != "loginTicketResponse" {
		return nil, &FaultError{Kind: ErrAuthentication, Message: "loginCmsReturn sin loginTicketResponse"}
	}
	creds := child(ticket, "credentials")
	token := strings.TrimSpace(textOf(creds, "token"))
	sign := strings.TrimSpace(textOf(creds, "sign"))
	if token == "" || sign == "" {
		return nil, &FaultError{Kind: ErrAuthentication, Message: "loginTicketResponse sin token o sign"}
	}

	cred := &Credential{Token: token, Sign: sign, GeneratedAt: now, ExpiresAt: now.Add(ttl)}
	header := child(ticket, "header")
	if t, err := parseTRATime(textOf(header, "generationTime")); err == nil {
		cred.GeneratedAt = t
	}
	if t, err := parseTRATime(textOf(header, "expirationTime")); err == nil {
		cred.ExpiresAt = t
	}
	return cred, nil
}

func parseTRATime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(traTimeLayout, s)
}

// ── WSFEv1 ────────────────────────────────────────────────────────────────────

// ParseCAEResponse interpreta FECAESolicitarResult. Un Resultado R es un valor
// (Rejected), no un error.
func ParseCAEResponse(raw []byte) (*AuthorizationResult, error) {
	env := decodeEnvelope(raw, "FECAESolicitarResult")
	if env.Shape == shapeFault || env.Shape == shapeUnparsed {
		return nil, envelopeError(ErrTransport, env)
	}
	res := env.Result

	errs := collectIssues(res, "Errors", "Err")
	if err := classifyErrors(errs); err != nil {
		return nil, err
	}
	events := collectIssues(res, "Events", "Evt")

	cab := child(res, "FeCabResp")
	det := child(child(res, "FeDetResp"), "FECAEDetResponse")
	obs := collectIssues(det, "Observaciones", "Obs")

	resultado := strings.TrimSpace(textOf(det, "Resultado"))
	if resultado == "" {
		resultado = strings.TrimSpace(textOf(cab, "Resultado"))
	}

	switch resultado {
	case "A", "P":
		cae := strings.TrimSpace(textOf(det, "CAE"))
		if cae == "" {
			return nil, &FaultError{Kind: ErrTransport, Message: "resultado aprobado sin CAE", Raw: rawXML(res)}
		}
		return &AuthorizationResult{Approved: &Approval{
			CAE:            cae,
			CAEExpiry:      strings.TrimSpace(textOf(det, "CAEFchVto")),
			ProcessingMode: "CAE",
			Reprocessed:    strings.TrimSpace(textOf(cab, "Reproceso")) == "S",
			Observations:   append(obs, events...),
		}}, nil
	case "R":
		return rejection(append(obs, errs...)), nil
	}

	if len(errs) > 0 {
		// Errores de validación sin Resultado: el comprobante en sí fue rechazado.
		return rejection(errs), nil
	}
	return nil, &FaultError{Kind: ErrTransport, Message: "FECAESolicitarResult sin Resultado", Raw: rawXML(res)}
}

func rejection(issues []Issue) *AuthorizationResult {
	r := &Rejection{Observations: issues, Message: joinIssues(issues)}
	if len(issues) > 0 {
		r.ErrorCode = issues[0].Code
	}
	if r.Message == "" {
		r.Message = "comprobante rechazado sin observaciones"
	}
	return &AuthorizationResult{Rejected: r}
}

// ParseLastNumberResponse interpreta FECompUltimoAutorizadoResult.
func ParseLastNumberResponse(raw []byte) (int64, error) {
	env := decodeEnvelope(raw, "FECompUltimoAutorizadoResult")
	if env.Shape == shapeFault || env.Shape == shapeUnparsed {
		return 0, envelopeError(ErrTransport, env)
	}
	errs := collectIssues(env.Result, "Errors", "Err")
	if err := classifyErrors(errs); err != nil {
		return 0, err
	}
	if len(errs) > 0 {
		return 0, &FaultError{Kind: ErrTransport, Code: errs[0].Code, Message: joinIssues(errs), Raw: errs[0].Raw}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(textOf(env.Result, "CbteNro")), 10, 64)
	if err != nil {
		return 0, &FaultError{Kind: ErrTransport, Message: "CbteNro inválido: " + err.Error()}
	}
	return n, nil
}

// ParseStatusQueryResponse interpreta FECompConsultarResult. Devuelve nil, nil si AFIP
// no tiene el comprobante (código 602).
func ParseStatusQueryResponse(raw []byte) (*AuthorizationStatus, error) {
	env := decodeEnvelope(raw, "FECompConsultarResult")
	if env.Shape == shapeFault || env.Shape == shapeUnparsed {
		return nil, envelopeError(ErrTransport, env)
	}
	errs := collectIssues(env.Result, "Errors", "Err")
	for _, e := range errs {
		if e.Code == strconv.Itoa(pkgafip.ErrCodeNoResults) {
			return nil, nil
		}
	}
	if err := classifyErrors(errs); err != nil {
		return nil, err
	}
	if len(errs) > 0 {
		return nil, &FaultError{Kind: ErrTransport, Code: errs[0].Code, Message: joinIssues(errs), Raw: errs[0].Raw}
	}

	get := child(env.Result, "ResultGet")
	if get == nil {
		return nil, nil
	}
	st := &AuthorizationStatus{
		CAE:            strings.TrimSpace(textOf(get, "CodAutorizacion")),
		CAEExpiry:      strings.TrimSpace(textOf(get, "FchVto")),
		ProcessingMode: strings.TrimSpace(textOf(get, "EmisionTipo")),
		Result:         strings.TrimSpace(textOf(get, "Resultado")),
		IssueDate:      strings.TrimSpace(textOf(get, "CbteFch")),
	}
	st.PointOfSale, _ = strconv.Atoi(strings.TrimSpace(textOf(get, "PtoVta")))
	st.CbteTipo, _ = strconv.Atoi(strings.TrimSpace(textOf(get, "CbteTipo")))
	st.Number, _ = strconv.ParseInt(strings.TrimSpace(textOf(get, "CbteDesde")), 10, 64)
	if v, err := decimal.NewFromString(strings.TrimSpace(textOf(get, "ImpTotal"))); err == nil {
		st.Total = v
	}
	return st, nil
}

// ParseDummyResponse interpreta FEDummyResult.
func ParseDummyResponse(raw []byte) (*ServerStatus, error) {
	env := decodeEnvelope(raw, "FEDummyResult")
	if env.Shape == shapeFault || env.Shape == shapeUnparsed {
		return nil, envelopeError(ErrTransport, env)
	}
	return &ServerStatus{
		AppServer:  strings.TrimSpace(textOf(env.Result, "AppServer")),
		DbServer:   strings.TrimSpace(textOf(env.Result, "DbServer")),
		AuthServer: strings.TrimSpace(textOf(env.Result, "AuthServer")),
	}, nil
}

// ── Helpers etree (comparan por nombre local, ignorando el prefijo) ──────────

func child(e *etree.Element, tag string) *etree.Element {
	if e == nil {
		return nil
	}
	for _, c := range e.ChildElements() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

func findDeep(e *etree.Element, tag string) *etree.Element {
	if e == nil {
		return nil
	}
	if e.Tag == tag {
		return e
	}
	for _, c := range e.ChildElements() {
		if found := findDeep(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func textOf(e *etree.Element, tag string) string {
	c := child(e, tag)
	if c == nil {
		return ""
	}
	return c.Text()
}

func rawXML(e *etree.Element) string {
	if e == nil {
		return ""
	}
	doc := etree.NewDocument()
	doc.SetRoot(e.Copy())
	s, err := doc.WriteToString()
	if err != nil {
		return fmt.Sprintf("<%s/>", e.FullTag())
	}
	return s
}
