// afipctl herramienta de diagnóstico AFIP/ARCA: verifica el certificado, hace login WSAA
// y consulta WSFEv1 con la configuración del entorno (AFIP_*).
//
// Uso:
//
//	go run ./cmd/afipctl cert
//	go run ./cmd/afipctl login
//	go run ./cmd/afipctl last -pos 1 -type 6
//	go run ./cmd/afipctl query -pos 1 -type 6 -number 105
//	go run ./cmd/afipctl status
//	go run ./cmd/afipctl token -business <id> -role owner
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdullazmat/pos-sub003/internal/infrastructure/afip"
	"github.com/abdullazmat/pos-sub003/pkg/config"
	pkgjwt "github.com/abdullazmat/pos-sub003/pkg/jwt"
	"github.com/abdullazmat/pos-sub003/pkg/logger"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuración: %v\n", err)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "cert":
		err = runCert(cfg)
	case "login":
		err = runLogin(cfg, args)
	case "last":
		err = runLast(cfg, args)
	case "query":
		err = runQuery(cfg, args)
	case "status":
		err = runStatus(cfg, args)
	case "token":
		err = runToken(cfg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "uso: afipctl <cert|login|last|query|status|token> [flags]")
}

// ── Certificado ───────────────────────────────────────────────────────────────

func loadPair(cfg *config.Config) (*afip.CertificatePair, error) {
	path := cfg.AFIP.CertPath
	if path == "" {
		return nil, errors.New("AFIP_CERT_PATH no configurado")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".p12", ".pfx":
		return afip.LoadFromP12(path, cfg.AFIP.P12Password)
	default:
		return afip.LoadFromFiles(path, cfg.AFIP.KeyPath)
	}
}

func runCert(cfg *config.Config) error {
	fmt.Printf("📂 Certificado: %s\n", cfg.AFIP.CertPath)
	pair, err := loadPair(cfg)
	if err != nil {
		return err
	}
	now := time.Now()
	fmt.Printf("   Sujeto:      %s\n", pair.Subject())
	fmt.Printf("   Serie:       %s\n", pair.Serial())
	fmt.Printf("   CUIT:        %s\n", pair.CUIT())
	fmt.Printf("   Vigencia:    %s → %s\n", pair.NotBefore().Format(time.DateOnly), pair.NotAfter().Format(time.DateOnly))
	fmt.Printf("   Huella:      %s\n", pair.Fingerprint())
	if !pair.IsValidAt(now) {
		return fmt.Errorf("%w: fuera de vigencia", afip.ErrCertificate)
	}
	if cfg.AFIP.CUIT != "" && pair.CUIT() != "" && pair.CUIT() != strings.ReplaceAll(cfg.AFIP.CUIT, "-", "") {
		fmt.Printf("⚠️  El CUIT del certificado no coincide con AFIP_CUIT (%s)\n", cfg.AFIP.CUIT)
	}
	fmt.Println("✅ Certificado y llave correctos.")
	return nil
}

// ── WSAA / WSFEv1 ─────────────────────────────────────────────────────────────

type session struct {
	tokens *afip.TokenManager
	client *afip.InvoicingClient
}

func newSession(cfg *config.Config, verbose bool) (*session, error) {
	pair, err := loadPair(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.Nop()
	if verbose {
		log = logger.New(logger.Config{Env: "development", Level: "debug"})
	}
	transport := afip.NewTransport(cfg.AFIP.Timeout, log.Component("afip.transport"))
	tokens := afip.NewTokenManager(afip.TokenManagerConfig{
		LoginURL: cfg.AFIP.LoginURL(),
		Service:  cfg.AFIP.Service,
		TTL:      cfg.AFIP.TokenTTL,
	}, pair, afip.NewCMSSigner(), transport, nil, log.Component("afip.wsaa"))

	cuit := cfg.AFIP.CUIT
	if cuit == "" {
		cuit = pair.CUIT()
	}
	client, err := afip.NewInvoicingClient(cfg.AFIP.InvoicingURL(), cuit, tokens, transport, log.Component("afip.wsfe"))
	if err != nil {
		tokens.Close()
		return nil, err
	}
	return &session{tokens: tokens, client: client}, nil
}

func (s *session) Close() { s.tokens.Close() }

func commandContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*cfg.AFIP.Timeout)
}

func runLogin(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	verbose := fs.Bool("v", false, "log detallado")
	_ = fs.Parse(args)

	s, err := newSession(cfg, *verbose)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, cancel := commandContext(cfg)
	defer cancel()

	fmt.Printf("🔐 Login WSAA (%s, servicio %s)\n", cfg.AFIP.Environment, cfg.AFIP.Service)
	cred, err := s.tokens.Credential(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Ticket obtenido. Vence: %s\n", cred.ExpiresAt.Format(time.RFC3339))
	return nil
}

func seriesFlags(name string, args []string, defaultPos int, withNumber bool) (pos, tipo int, number int64, verbose bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	p := fs.Int("pos", defaultPos, "punto de venta")
	t := fs.Int("type", 6, "tipo de comprobante (1 = Factura A, 6 = Factura B, 11 = Factura C, ...)")
	var n *int64
	if withNumber {
		n = fs.Int64("number", 0, "número de comprobante")
	}
	v := fs.Bool("v", false, "log detallado")
	_ = fs.Parse(args)
	if n != nil {
		number = *n
	}
	return *p, *t, number, *v
}

func runLast(cfg *config.Config, args []string) error {
	pos, tipo, _, verbose := seriesFlags("last", args, cfg.AFIP.DefaultPtoVta, false)

	s, err := newSession(cfg, verbose)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, cancel := commandContext(cfg)
	defer cancel()

	n, err := s.client.LastAuthorizedNumber(ctx, pos, tipo)
	if err != nil {
		return err
	}
	fmt.Printf("Último autorizado PV %04d tipo %d: %d (próximo %d)\n", pos, tipo, n, n+1)
	return nil
}

func runQuery(cfg *config.Config, args []string) error {
	pos, tipo, number, verbose := seriesFlags("query", args, cfg.AFIP.DefaultPtoVta, true)
	if number <= 0 {
		return errors.New("-number es obligatorio")
	}

	s, err := newSession(cfg, verbose)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, cancel := commandContext(cfg)
	defer cancel()

	st, err := s.client.QueryAuthorizationStatus(ctx, pos, tipo, number)
	if err != nil {
		return err
	}
	if st == nil {
		fmt.Printf("AFIP no registra el comprobante %04d-%08d (tipo %d)\n", pos, number, tipo)
		return nil
	}
	fmt.Printf("Comprobante %04d-%08d tipo %d\n", st.PointOfSale, st.Number, st.CbteTipo)
	fmt.Printf("   Resultado: %s\n", st.Result)
	fmt.Printf("   CAE:       %s (vence %s, modo %s)\n", st.CAE, st.CAEExpiry, st.ProcessingMode)
	fmt.Printf("   Emisión:   %s  Total: %s\n", st.IssueDate, st.Total.StringFixed(2))
	return nil
}

func runStatus(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	verbose := fs.Bool("v", false, "log detallado")
	_ = fs.Parse(args)

	s, err := newSession(cfg, *verbose)
	if err != nil {
		return err
	}
	defer s.Close()
	ctx, cancel := commandContext(cfg)
	defer cancel()

	st, err := s.client.ServerStatus(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("AppServer=%s DbServer=%s AuthServer=%s\n", st.AppServer, st.DbServer, st.AuthServer)
	if !st.OK() {
		return errors.New("WSFEv1 informa servidores caídos")
	}
	fmt.Println("✅ WSFEv1 operativo.")
	return nil
}

// ── JWT ───────────────────────────────────────────────────────────────────────

// runToken emite un JWT para pruebas locales de la API (no hay login de usuarios en este servicio).
func runToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	business := fs.String("business", "", "ID del negocio")
	user := fs.String("user", "", "ID del usuario (vacío = uno aleatorio)")
	role := fs.String("role", "owner", "rol: owner | cashier")
	_ = fs.Parse(args)

	if *business == "" {
		return errors.New("-business es obligatorio")
	}
	if cfg.JWT.Secret == "" {
		return errors.New("JWT_SECRET no configurado")
	}
	if *user == "" {
		*user = uuid.NewString()
	}
	tok, err := pkgjwt.Generate(cfg.JWT.Secret, *user, *business, *role, cfg.JWT.Issuer, cfg.JWT.Expiration)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
