package config

import (
	"time"
)

const (
	RegistrarModeHTTP  = "http"
	RegistrarModeMinio = "minio"
)

type UploaderConfig struct {
	CompositeBaseURL string
	AuthToken        string
	RegistrarMode    string
	HTTPTimeout      time.Duration
	TransferTimeout  time.Duration
	Defaults         DefaultsConfig
	Watch            WatchConfig
	Redis            RedisConfig
	Minio            MinioConfig
	AMQP             AMQPConfig
	Server           ServerConfig
	Log              LogConfig
}

// DefaultsConfig fills the form fields a drop-folder file cannot carry.
type DefaultsConfig struct {
	OfferingID   string
	ProfessorUNI string
}

type WatchConfig struct {
	Path          string
	StreamTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	UseSSL     bool
	Bucket     string
	Region     string
	PresignTTL time.Duration
}

type AMQPConfig struct {
	URL   string
	Queue string
}

// Enabled reports whether completion events should be published.
func (c AMQPConfig) Enabled() bool {
	return c.URL != ""
}

type ServerConfig struct {
	Port        string
	MetricsPort string
}

type LogConfig struct {
	Level  string
	Format string
}
