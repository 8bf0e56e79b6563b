package afip

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ── Constantes de protocolo ───────────────────────────────────────────────────

const (
	soapNS = "http://schemas.xmlsoap.org/soap/envelope/"
	wsaaNS = "http://wsaa.view.ua.seg.afip.gov"
	wsfeNS = "http://ar.gov.afip.dif.FEV1/"

	// Operaciones WSFEv1; el SOAPAction es wsfeNS + operación.
	OpCAESolicitar  = "FECAESolicitar"
	OpUltimoAutoriz = "FECompUltimoAutorizado"
	OpCompConsultar = "FECompConsultar"
	OpDummy         = "FEDummy"

	loginAction    = ""
	monedaPesos    = "PES"
	traVersion     = "1.0"
	traTimeLayout  = "2006-01-02T15:04:05-07:00"
	wsfeDateLayout = "20060102"
)

// SOAPAction devuelve la acción de una operación WSFEv1.
func SOAPAction(op string) string { return wsfeNS + op }

// ── Envelope genérico ─────────────────────────────────────────────────────────
// Los prefijos van literales en los tags: el esquema de AFIP valida orden y nombres,
// y encoding/xml respeta el orden de los campos del struct.

type soapEnvelope struct {
	XMLName   xml.Name   `xml:"soapenv:Envelope"`
	XmlnsSoap string     `xml:"xmlns:soapenv,attr"`
	XmlnsWSAA string     `xml:"xmlns:wsaa,attr,omitempty"`
	XmlnsAR   string     `xml:"xmlns:ar,attr,omitempty"`
	Header    soapHeader `xml:"soapenv:Header"`
	Body      soapBody   `xml:"soapenv:Body"`
}

type soapHeader struct{}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "soapenv:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

func marshalEnvelope(env soapEnvelope) ([]byte, error) {
	env.XmlnsSoap = soapNS
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("afip: serializar envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// ── WSAA: loginTicketRequest y loginCms ───────────────────────────────────────

type loginTicketRequest struct {
	XMLName xml.Name  `xml:"loginTicketRequest"`
	Version string    `xml:"version,attr"`
	Header  traHeader `xml:"header"`
	Service string    `xml:"service"`
}

type traHeader struct {
	UniqueID       uint32 `xml:"uniqueId"`
	GenerationTime string `xml:"generationTime"`
	ExpirationTime string `xml:"expirationTime"`
}

// BuildLoginTicket arma el TRA: id único, generación = now, vencimiento = now + ttl.
func BuildLoginTicket(uniqueID uint32, now time.Time, ttl time.Duration, service string) ([]byte, error) {
	tra := loginTicketRequest{
		Version: traVersion,
		Header: traHeader{
			UniqueID:       uniqueID,
			GenerationTime: now.In(argentina).Format(traTimeLayout),
			ExpirationTime: now.Add(ttl).In(argentina).Format(traTimeLayout),
		},
		Service: service,
	}
	out, err := xml.Marshal(tra)
	if err != nil {
		return nil, fmt.Errorf("afip: serializar TRA: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

type loginCmsBody struct {
	XMLName xml.Name `xml:"wsaa:loginCms"`
	In0     string   `xml:"wsaa:in0"`
}

// BuildLoginEnvelope envuelve el CMS (base64) en el pedido loginCms.
func BuildLoginEnvelope(cmsBase64 string) ([]byte, error) {
	return marshalEnvelope(soapEnvelope{
		XmlnsWSAA: wsaaNS,
		Body:      soapBody{Content: loginCmsBody{In0: cmsBase64}},
	})
}

// ── WSFEv1: estructuras de pedido ─────────────────────────────────────────────

type feAuth struct {
	Token string `xml:"ar:Token"`
	Sign  string `xml:"ar:Sign"`
	Cuit  int64  `xml:"ar:Cuit"`
}

type feCAESolicitar struct {
	XMLName  xml.Name `xml:"ar:FECAESolicitar"`
	Auth     feAuth   `xml:"ar:Auth"`
	FeCAEReq feCAEReq `xml:"ar:FeCAEReq"`
}

type feCAEReq struct {
	FeCabReq feCabReq `xml:"ar:FeCabReq"`
	FeDetReq feDetReq `xml:"ar:FeDetReq"`
}

type feCabReq struct {
	CantReg  int `xml:"ar:CantReg"`
	PtoVta   int `xml:"ar:PtoVta"`
	CbteTipo int `xml:"ar:CbteTipo"`
}

type feDetReq struct {
	Items []feCAEDetRequest `xml:"ar:FECAEDetRequest"`
}

// feCAEDetRequest respeta el orden de la secuencia del WSDL.
type feCAEDetRequest struct {
	Concepto               int        `xml:"ar:Concepto"`
	DocTipo                int        `xml:"ar:DocTipo"`
	DocNro                 int64      `xml:"ar:DocNro"`
	CbteDesde              int64      `xml:"ar:CbteDesde"`
	CbteHasta              int64      `xml:"ar:CbteHasta"`
	CbteFch                string     `xml:"ar:CbteFch"`
	ImpTotal               string     `xml:"ar:ImpTotal"`
	ImpTotConc             string     `xml:"ar:ImpTotConc"`
	ImpNeto                string     `xml:"ar:ImpNeto"`
	ImpOpEx                string     `xml:"ar:ImpOpEx"`
	ImpTrib                string     `xml:"ar:ImpTrib"`
	ImpIVA                 string     `xml:"ar:ImpIVA"`
	FchServDesde           string     `xml:"ar:FchServDesde,omitempty"`
	FchServHasta           string     `xml:"ar:FchServHasta,omitempty"`
	FchVtoPago             string     `xml:"ar:FchVtoPago,omitempty"`
	MonID                  string     `xml:"ar:MonId"`
	MonCotiz               string     `xml:"ar:MonCotiz"`
	CondicionIVAReceptorID int        `xml:"ar:CondicionIVAReceptorId,omitempty"`
	CbtesAsoc              *cbtesAsoc `xml:"ar:CbtesAsoc,omitempty"`
	Iva                    *ivaArray  `xml:"ar:Iva,omitempty"`
}

type cbtesAsoc struct {
	Items []cbteAsoc `xml:"ar:CbteAsoc"`
}

type cbteAsoc struct {
	Tipo    int    `xml:"ar:Tipo"`
	PtoVta  int    `xml:"ar:PtoVta"`
	Nro     int64  `xml:"ar:Nro"`
	Cuit    string `xml:"ar:Cuit,omitempty"`
	CbteFch string `xml:"ar:CbteFch,omitempty"`
}

type ivaArray struct {
	Items []alicIva `xml:"ar:AlicIva"`
}

type alicIva struct {
	ID      int    `xml:"ar:Id"`
	BaseImp string `xml:"ar:BaseImp"`
	Importe string `xml:"ar:Importe"`
}

type feCompUltimoAutorizado struct {
	XMLName  xml.Name `xml:"ar:FECompUltimoAutorizado"`
	Auth     feAuth   `xml:"ar:Auth"`
	PtoVta   int      `xml:"ar:PtoVta"`
	CbteTipo int      `xml:"ar:CbteTipo"`
}

type feCompConsultar struct {
	XMLName       xml.Name      `xml:"ar:FECompConsultar"`
	Auth          feAuth        `xml:"ar:Auth"`
	FeCompConsReq feCompConsReq `xml:"ar:FeCompConsReq"`
}

type feCompConsReq struct {
	CbteTipo int   `xml:"ar:CbteTipo"`
	CbteNro  int64 `xml:"ar:CbteNro"`
	PtoVta   int   `xml:"ar:PtoVta"`
}

type feDummy struct {
	XMLName xml.Name `xml:"ar:FEDummy"`
}

// ── Builders WSFEv1 ───────────────────────────────────────────────────────────

func wsfeEnvelope(content interface{}) ([]byte, error) {
	return marshalEnvelope(soapEnvelope{XmlnsAR: wsfeNS, Body: soapBody{Content: content}})
}

func authOf(cred *Credential, cuit int64) feAuth {
	return feAuth{Token: cred.Token, Sign: cred.Sign, Cuit: cuit}
}

// BuildCAERequest arma FECAESolicitar para un único comprobante.
func BuildCAERequest(cred *Credential, cuit int64, req AuthorizationRequest) ([]byte, error) {
	det := feCAEDetRequest{
		Concepto:               req.Concepto,
		DocTipo:                req.DocTipo,
		DocNro:                 req.DocNro,
		CbteDesde:              req.Number,
		CbteHasta:              req.Number,
		CbteFch:                wsfeDate(req.IssueDate),
		ImpTotal:               amount(req.TotalAmount),
		ImpTotConc:             amount(req.NonTaxedAmount),
		ImpNeto:                amount(req.NetAmount),
		ImpOpEx:                amount(req.ExemptAmount),
		ImpTrib:                amount(req.OtherTaxesAmount),
		ImpIVA:                 amount(req.TaxAmount),
		MonID:                  req.Currency,
		MonCotiz:               "1",
		CondicionIVAReceptorID: req.CondicionIVAReceptor,
	}
	if det.MonID == "" {
		det.MonID = monedaPesos
	}
	if !req.ExchangeRate.IsZero() {
		det.MonCotiz = req.ExchangeRate.String()
	}
	if req.ServiceFrom != nil {
		det.FchServDesde = wsfeDate(*req.ServiceFrom)
	}
	if req.ServiceTo != nil {
		det.FchServHasta = wsfeDate(*req.ServiceTo)
	}
	if req.PaymentDue != nil {
		det.FchVtoPago = wsfeDate(*req.PaymentDue)
	}
	if len(req.Associated) > 0 {
		det.CbtesAsoc = &cbtesAsoc{}
		for _, a := range req.Associated {
			item := cbteAsoc{Tipo: a.CbteTipo, PtoVta: a.PointOfSale, Nro: a.Number, Cuit: a.CUIT}
			if a.Date != nil {
				item.CbteFch = wsfeDate(*a.Date)
			}
			det.CbtesAsoc.Items = append(det.CbtesAsoc.Items, item)
		}
	}
	if len(req.VatBreakdown) > 0 {
		det.Iva = &ivaArray{}
		for _, v := range req.VatBreakdown {
			det.Iva.Items = append(det.Iva.Items, alicIva{ID: v.ID, BaseImp: amount(v.Base), Importe: amount(v.Amount)})
		}
	}

	return wsfeEnvelope(feCAESolicitar{
		Auth: authOf(cred, cuit),
		FeCAEReq: feCAEReq{
			FeCabReq: feCabReq{CantReg: 1, PtoVta: req.PointOfSale, CbteTipo: req.CbteTipo},
			FeDetReq: feDetReq{Items: []feCAEDetRequest{det}},
		},
	})
}

// BuildLastNumberRequest arma FECompUltimoAutorizado.
func BuildLastNumberRequest(cred *Credential, cuit int64, pointOfSale, cbteTipo int) ([]byte, error) {
	return wsfeEnvelope(feCompUltimoAutorizado{Auth: authOf(cred, cuit), PtoVta: pointOfSale, CbteTipo: cbteTipo})
}

// BuildStatusQueryRequest arma FECompConsultar.
func BuildStatusQueryRequest(cred *Credential, cuit int64, pointOfSale, cbteTipo int, number int64) ([]byte, error) {
	return wsfeEnvelope(feCompConsultar{
		Auth:          authOf(cred, cuit),
		FeCompConsReq: feCompConsReq{CbteTipo: cbteTipo, CbteNro: number, PtoVta: pointOfSale},
	})
}

// BuildDummyRequest arma FEDummy (no requiere autenticación).
func BuildDummyRequest() ([]byte, error) {
	return wsfeEnvelope(feDummy{})
}

// wsfeDate formatea fechas de calendario; no se convierte de zona para no correr el día.
func wsfeDate(t time.Time) string {
	return t.Format(wsfeDateLayout)
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
