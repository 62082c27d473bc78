package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Debug       bool   `env:"DEBUG" envDefault:"false"`
	Port        string `env:"PORT" envDefault:"3000"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	Domain      string `env:"DOMAIN" envDefault:"http://localhost:3000"`

	// JWTSecret - если пустой, API релея открыт
	JWTSecret string `env:"JWT_SECRET"`

	// SignalingStore - хранилище релея: memory или postgres
	SignalingStore string `env:"SIGNALING_STORE" envDefault:"memory"`

	RelayURL   string `env:"RELAY_URL" envDefault:"http://localhost:3000"`
	RelayToken string `env:"RELAY_TOKEN"`

	RoomListInterval time.Duration `env:"ROOM_LIST_INTERVAL" envDefault:"2s"`

	STUNServers []string `env:"STUN_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`

	TurnUDPServer webrtc.ICEServer
	TurnTCPServer webrtc.ICEServer

	CoturnServer CoturnConfig
	Postgres     PostgresConfig
}

type PostgresConfig struct {
	URL string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"roomcall"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

type CoturnConfig struct {
	Host     string `env:"COTURN_HOST"`
	Username string `env:"COTURN_USERNAME"`
	Password string `env:"COTURN_PASSWORD"`

	// Secret - нужен для генерации временных кредов для клиентов
	Secret string `env:"COTURN_SECRET"`
}

// Enabled - TURN настроен
func (c *CoturnConfig) Enabled() bool {
	return c.Host != ""
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	switch c.SignalingStore {
	case StoreMemory, StorePostgres:
	default:
		return nil, fmt.Errorf("unknown SIGNALING_STORE %q", c.SignalingStore)
	}

	if c.RoomListInterval <= 0 {
		return nil, fmt.Errorf("ROOM_LIST_INTERVAL must be positive, got %s", c.RoomListInterval)
	}

	if c.CoturnServer.Enabled() {
		c.TurnUDPServer = webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=udp", c.CoturnServer.Host)},
			Username:   c.CoturnServer.Username,
			Credential: c.CoturnServer.Password,
		}

		c.TurnTCPServer = webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=tcp", c.CoturnServer.Host)},
			Username:   c.CoturnServer.Username,
			Credential: c.CoturnServer.Password,
		}
	}

	return &c, nil
}

// ICEServers собирает список ICE серверов для PeerConnection
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, 3)

	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}

	if c.CoturnServer.Enabled() {
		servers = append(servers, c.TurnUDPServer, c.TurnTCPServer)
	}

	return servers
}
