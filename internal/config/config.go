// Package config loads relay and client settings from the environment. An
// optional .env file is read first; command line flags are applied on top by
// the caller before Validate.
package config

import (
	"fmt"
	"strings"

	"goshare-relay/internal/client"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPort     = 12346
	DefaultQUICPort = 12347
)

var validate = validator.New()

type Server struct {
	Host        string `env:"RELAY_HOST,default=0.0.0.0" validate:"required"`
	Port        int    `env:"RELAY_PORT,default=12346" validate:"min=1,max=65535"`
	QUIC        bool   `env:"RELAY_QUIC"`
	QUICPort    int    `env:"RELAY_QUIC_PORT,default=12347" validate:"min=1,max=65535"`
	CertFile    string `env:"RELAY_CERT_FILE" validate:"required_with=KeyFile"`
	KeyFile     string `env:"RELAY_KEY_FILE" validate:"required_with=CertFile"`
	Announce    bool   `env:"RELAY_ANNOUNCE"`
	RelayBuffer int    `env:"RELAY_BUFFER,default=4096" validate:"min=1,max=16777216"`
	LogLevel    string `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn warning error fatal panic"`
}

func (s Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s Server) QUICAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.QUICPort)
}

type Client struct {
	Server             string `env:"RELAY_SERVER,default=localhost:12346" validate:"required,hostname_port"`
	Username           string `env:"GOSHARE_USERNAME" validate:"omitempty,excludesall= \t\r\n"`
	Transport          string `env:"GOSHARE_TRANSPORT,default=tcp" validate:"oneof=tcp quic"`
	Discover           bool   `env:"GOSHARE_DISCOVER"`
	DownloadDir        string `env:"GOSHARE_DOWNLOAD_DIR,default=." validate:"required"`
	ReconnectIntervals string `env:"RECONNECT_INTERVALS"`
	LogLevel           string `env:"LOG_LEVEL,default=info" validate:"oneof=trace debug info warn warning error fatal panic"`
}

// LoadServer reads the relay settings. Values are not validated yet so that
// flags can still override them.
func LoadServer() (Server, error) {
	var cfg Server
	if err := load(&cfg); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func LoadClient() (Client, error) {
	var cfg Client
	if err := load(&cfg); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

func load(cfg any) error {
	// A missing .env file is normal.
	_ = godotenv.Load()
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	return nil
}

func (s Server) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	return nil
}

func (c Client) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	if _, err := c.BackOffPolicy(); err != nil {
		return fmt.Errorf("invalid client config: %w", err)
	}
	return nil
}

// BackOffPolicy parses ReconnectIntervals. An empty value selects the
// default policy.
func (c Client) BackOffPolicy() (client.BackOffPolicy, error) {
	if strings.TrimSpace(c.ReconnectIntervals) == "" {
		return client.DefaultBackOffPolicy, nil
	}
	return client.ParseBackOffPolicy(c.ReconnectIntervals)
}

// SetupLogging applies level to the standard logrus logger with a full
// timestamp text formatter.
func SetupLogging(level string) error {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logrus.SetLevel(parsed)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}
