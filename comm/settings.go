package comm

import "time"

// Settings configures one server channel.
type Settings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout bounds every socket receive via connection deadlines.
	Timeout time.Duration `yaml:"timeout"`
	// PingInterval rate-limits keep-alive pings while authorized.
	PingInterval time.Duration `yaml:"ping_interval"`
	// ReconnectInterval rate-limits reconnection attempts after a failure.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	// ChunkSize is the requested file-transfer chunk size in bytes.
	ChunkSize int `yaml:"chunk_size"`
}

// SetDefaults fills unset fields with working values.
func (s *Settings) SetDefaults() {
	if s.Host == "" {
		s.Host = "localhost"
	}
	if s.Port == 0 {
		s.Port = 10000
	}
	if s.Timeout == 0 {
		s.Timeout = 10 * time.Second
	}
	if s.PingInterval == 0 {
		s.PingInterval = 30 * time.Second
	}
	if s.ReconnectInterval == 0 {
		s.ReconnectInterval = 5 * time.Second
	}
	if s.ChunkSize == 0 {
		s.ChunkSize = 4096
	}
}
