package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig holds settings for the relay server runtime.
type ServerConfig struct {
	Env           string
	LogLevel      string
	ListenAddr    string
	ControlAddr   string
	TLS           TLSConfig
	Journal       JournalConfig
	Admin         AdminConfig
	CORSAllow     []string
	PingInterval  time.Duration
	PongTimeout   time.Duration
	WriteTimeout  time.Duration
	MaxFrameBytes int
	SendQueue     int
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerURL     string
	CommandPrefix rune
	ClientType    string
}

// TLSConfig locates the certificate pair for the encrypted listener.
type TLSConfig struct {
	Addr     string
	CertFile string
	KeyFile  string
}

// JournalConfig captures lifecycle journal storage. An empty path disables it.
type JournalConfig struct {
	Path      string
	QueueSize int
}

// AdminConfig defines control-plane token verification parameters.
type AdminConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

// SharedControl reports whether the control plane is mounted on the plain listener.
// Two ephemeral-port addresses always name two listeners.
func (c ServerConfig) SharedControl() bool {
	if c.ControlAddr == "" {
		return true
	}
	if c.ControlAddr != c.ListenAddr {
		return false
	}
	_, port, err := net.SplitHostPort(c.ControlAddr)
	return err != nil || port != "0"
}

// LoadServerConfig builds the server configuration from environment variables with sensible defaults.
func LoadServerConfig() ServerConfig {
	return ServerConfig{
		Env:         envOrDefault("BRIDGE_ENV", "dev"),
		LogLevel:    envOrDefault("BRIDGE_LOG_LEVEL", ""),
		ListenAddr:  envOrDefault("BRIDGE_LISTEN_ADDR", ":3000"),
		ControlAddr: envOrDefault("BRIDGE_CONTROL_ADDR", ""),
		TLS: TLSConfig{
			Addr:     envOrDefault("BRIDGE_TLS_ADDR", ":3443"),
			CertFile: envOrDefault("BRIDGE_TLS_CERT", "certs/server.crt"),
			KeyFile:  envOrDefault("BRIDGE_TLS_KEY", "certs/server.key"),
		},
		Journal: JournalConfig{
			Path:      envOrDefault("BRIDGE_JOURNAL_PATH", ""),
			QueueSize: envInt("BRIDGE_JOURNAL_QUEUE", 1024),
		},
		Admin:         loadAdminConfig(),
		CORSAllow:     splitCSV(envOrDefault("BRIDGE_CORS_ALLOW", "*")),
		PingInterval:  envDuration("BRIDGE_PING_INTERVAL", 30*time.Second),
		PongTimeout:   envDuration("BRIDGE_PONG_TIMEOUT", 0),
		WriteTimeout:  envDuration("BRIDGE_WRITE_TIMEOUT", 10*time.Second),
		MaxFrameBytes: envInt("BRIDGE_MAX_FRAME_BYTES", 1<<20),
		SendQueue:     envInt("BRIDGE_SEND_QUEUE", 256),
	}
}

// LoadClientConfig builds the client configuration from environment variables.
func LoadClientConfig() ClientConfig {
	prefix := envOrDefault("BRIDGE_COMMAND_PREFIX", "/")
	runes := []rune(prefix)
	commandPrefix := '/'
	if len(runes) > 0 {
		commandPrefix = runes[0]
	}
	return ClientConfig{
		ServerURL:     envOrDefault("BRIDGE_SERVER_URL", "ws://localhost:3000/ws"),
		CommandPrefix: commandPrefix,
		ClientType:    envOrDefault("BRIDGE_CLIENT_TYPE", "web"),
	}
}

func loadAdminConfig() AdminConfig {
	return AdminConfig{
		Secret:     envOrDefault("BRIDGE_ADMIN_SECRET", ""),
		Issuer:     envOrDefault("BRIDGE_ADMIN_ISSUER", "bridge-relay"),
		Expiration: envDuration("BRIDGE_ADMIN_EXPIRATION", time.Hour),
	}
}

func envOrDefault(key, value string) string {
	if env, ok := os.LookupEnv(key); ok {
		return env
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(env); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(key string, def int) int {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(env); err == nil {
			return parsed
		}
	}
	return def
}

func splitCSV(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
