package netius

import (
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds the environment-derived settings a cmd/netioserver
// style binary needs to stand up a listening Connection, read from the
// HOST/PORT/SSL/KEY_FILE/CER_FILE/LEVEL/POLL environment variables via
// viper, mirroring the env-var surface netius servers have always
// exposed for container/orchestrator deployment.
type ServerConfig struct {
	Host    string
	Port    int
	SSL     bool
	KeyFile string
	CerFile string
	Level   LogLevel
	Poll    string
}

// LoadServerConfig reads ServerConfig from the process environment,
// applying the same defaults a netius server falls back to when a
// variable is unset.
func LoadServerConfig() (*ServerConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("HOST", "127.0.0.1")
	v.SetDefault("PORT", "9090")
	v.SetDefault("SSL", "false")
	v.SetDefault("KEY_FILE", "")
	v.SetDefault("CER_FILE", "")
	v.SetDefault("LEVEL", "info")
	v.SetDefault("POLL", "epoll")

	port, err := strconv.Atoi(v.GetString("PORT"))
	if err != nil {
		return nil, WrapError("netius: invalid PORT", err)
	}

	ssl, err := strconv.ParseBool(v.GetString("SSL"))
	if err != nil {
		return nil, WrapError("netius: invalid SSL", err)
	}

	return &ServerConfig{
		Host:    v.GetString("HOST"),
		Port:    port,
		SSL:     ssl,
		KeyFile: v.GetString("KEY_FILE"),
		CerFile: v.GetString("CER_FILE"),
		Level:   parseLogLevel(v.GetString("LEVEL")),
		Poll:    v.GetString("POLL"),
	}, nil
}

// Address returns host:port, ready for net.Listen.
func (c *ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}
