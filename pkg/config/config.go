package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Ambientes AFIP/ARCA soportados.
const (
	AFIPEnvHomologation = "homo"
	AFIPEnvProduction   = "prod"
)

// Endpoints oficiales de WSAA y WSFEv1.
const (
	wsaaURLHomo = "https://wsaahomo.afip.gov.ar/ws/services/LoginCms"
	wsaaURLProd = "https://wsaa.afip.gov.ar/ws/services/LoginCms"
	wsfeURLHomo = "https://wswhomo.afip.gov.ar/wsfev1/service.asmx"
	wsfeURLProd = "https://servicios1.afip.gov.ar/wsfev1/service.asmx"
)

// Config agrupa la configuración de la aplicación (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App   AppConfig
	DB    DBConfig
	JWT   JWTConfig
	HTTP  HTTPConfig
	AFIP  AFIPConfig
	Retry RetryConfig
}

// AFIPConfig configuración de factura electrónica AFIP/ARCA (Argentina).
type AFIPConfig struct {
	Environment   string // "homo" = homologación, "prod" = producción
	CUIT          string // CUIT del emisor (solo CLI; la API toma el CUIT del negocio)
	CertPath      string // Certificado .pem/.crt o .p12 (solo CLI)
	KeyPath       string // Llave privada .pem (si CertPath es solo el certificado)
	P12Password   string // Contraseña del .p12
	WSAAURL       string // Vacío = URL oficial según Environment
	WSFEURL       string // Vacío = URL oficial según Environment
	Service       string // Servicio destino del ticket de acceso (wsfe)
	Timeout       time.Duration
	TokenTTL      time.Duration
	DefaultPtoVta int
}

// LoginURL devuelve el endpoint WSAA efectivo.
func (c AFIPConfig) LoginURL() string {
	if c.WSAAURL != "" {
		return c.WSAAURL
	}
	if c.Environment == AFIPEnvProduction {
		return wsaaURLProd
	}
	return wsaaURLHomo
}

// InvoicingURL devuelve el endpoint WSFEv1 efectivo.
func (c AFIPConfig) InvoicingURL() string {
	if c.WSFEURL != "" {
		return c.WSFEURL
	}
	if c.Environment == AFIPEnvProduction {
		return wsfeURLProd
	}
	return wsfeURLHomo
}

// RetryConfig parámetros del worker de reintentos de comprobantes pendientes de CAE.
type RetryConfig struct {
	Interval     time.Duration // cada cuánto se buscan pendientes
	PendingAfter time.Duration // antigüedad mínima de un PENDING_AUTH para reintentarlo
	BatchSize    int
	MaxAttempts  int
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int32 // tope del pool
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN devuelve el connection string para PostgreSQL con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// JWTConfig configuración de JWT.
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST, AFIP_CUIT, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env:      getString(v, "APP_ENV", "development"),
			Name:     getString(v, "APP_NAME", "pos-fiscal"),
			LogLevel: getString(v, "LOG_LEVEL", "info"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "pos_fiscal"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
			MaxConns:    int32(getInt(v, "DB_MAX_CONNS", 10)),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "pos-fiscal"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		AFIP: AFIPConfig{
			Environment:   strings.ToLower(getString(v, "AFIP_ENVIRONMENT", AFIPEnvHomologation)),
			CUIT:          getString(v, "AFIP_CUIT", ""),
			CertPath:      getString(v, "AFIP_CERT_PATH", ""),
			KeyPath:       getString(v, "AFIP_KEY_PATH", ""),
			P12Password:   getString(v, "AFIP_P12_PASSWORD", ""),
			WSAAURL:       getString(v, "AFIP_WSAA_URL", ""),
			WSFEURL:       getString(v, "AFIP_WSFE_URL", ""),
			Service:       getString(v, "AFIP_SERVICE", "wsfe"),
			Timeout:       time.Duration(getInt(v, "AFIP_TIMEOUT_SECONDS", 15)) * time.Second,
			TokenTTL:      time.Duration(getInt(v, "AFIP_TOKEN_TTL_HOURS", 12)) * time.Hour,
			DefaultPtoVta: getInt(v, "AFIP_PTO_VTA", 1),
		},
		Retry: RetryConfig{
			Interval:     time.Duration(getInt(v, "RETRY_INTERVAL_SECONDS", 60)) * time.Second,
			PendingAfter: time.Duration(getInt(v, "RETRY_PENDING_AFTER_SECONDS", 120)) * time.Second,
			BatchSize:    getInt(v, "RETRY_BATCH_SIZE", 20),
			MaxAttempts:  getInt(v, "RETRY_MAX_ATTEMPTS", 10),
		},
	}

	switch cfg.AFIP.Environment {
	case AFIPEnvHomologation, AFIPEnvProduction:
	default:
		return nil, fmt.Errorf("config: AFIP_ENVIRONMENT desconocido %q (usar homo|prod)", cfg.AFIP.Environment)
	}
	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, err := strconv.Atoi(v.GetString(key))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}
