package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// fileConfig mirrors Config with durations written as strings ("30s").
// Absent fields keep their current value.
type fileConfig struct {
	Database *struct {
		Path            string `json:"path"`
		MaxConnections  int    `json:"max_connections"`
		ConnMaxLifetime string `json:"conn_max_lifetime"`
		ConnMaxIdleTime string `json:"conn_max_idle_time"`
	} `json:"database"`
	HTTP *struct {
		Host            string `json:"host"`
		Port            int    `json:"port"`
		ReadTimeout     string `json:"read_timeout"`
		WriteTimeout    string `json:"write_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval   string `json:"ping_interval"`
		ReadTimeout    string `json:"read_timeout"`
		WriteTimeout   string `json:"write_timeout"`
		EnqueueTimeout string `json:"enqueue_timeout"`
		BufferSize     int    `json:"buffer_size"`
		MaxMessageSize int64  `json:"max_message_size"`
	} `json:"websocket"`
	Auth *struct {
		JWTSecret string `json:"jwt_secret"`
		Issuer    string `json:"issuer"`
	} `json:"auth"`
	Relay *struct {
		PersistTimeout string `json:"persist_timeout"`
	} `json:"relay"`
	RateLimit *struct {
		Limit           int    `json:"limit"`
		Window          string `json:"window"`
		CleanupInterval string `json:"cleanup_interval"`
	} `json:"rate_limit"`
	Alert *struct {
		EmergencyPhone string `json:"emergency_phone"`
		EmergencyEmail string `json:"emergency_email"`
	} `json:"alert"`
	Log *struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

// ApplyFile overlays the JSON file at path onto c.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var f fileConfig
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := c.overlay(&f); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlay(f *fileConfig) error {
	d := durations{}

	if db := f.Database; db != nil {
		setString(&c.Database.DatabasePath, db.Path)
		setInt(&c.Database.MaxConnections, db.MaxConnections)
		d.set(&c.Database.ConnMaxLifetime, "database.conn_max_lifetime", db.ConnMaxLifetime)
		d.set(&c.Database.ConnMaxIdleTime, "database.conn_max_idle_time", db.ConnMaxIdleTime)
	}
	if h := f.HTTP; h != nil {
		setString(&c.HTTP.Host, h.Host)
		setInt(&c.HTTP.Port, h.Port)
		d.set(&c.HTTP.ReadTimeout, "http.read_timeout", h.ReadTimeout)
		d.set(&c.HTTP.WriteTimeout, "http.write_timeout", h.WriteTimeout)
		d.set(&c.HTTP.ShutdownTimeout, "http.shutdown_timeout", h.ShutdownTimeout)
	}
	if ws := f.WebSocket; ws != nil {
		d.set(&c.WebSocket.PingInterval, "websocket.ping_interval", ws.PingInterval)
		d.set(&c.WebSocket.ReadTimeout, "websocket.read_timeout", ws.ReadTimeout)
		d.set(&c.WebSocket.WriteTimeout, "websocket.write_timeout", ws.WriteTimeout)
		d.set(&c.WebSocket.EnqueueTimeout, "websocket.enqueue_timeout", ws.EnqueueTimeout)
		setInt(&c.WebSocket.BufferSize, ws.BufferSize)
		if ws.MaxMessageSize > 0 {
			c.WebSocket.MaxMessageSize = ws.MaxMessageSize
		}
	}
	if a := f.Auth; a != nil {
		setString(&c.Auth.JWTSecret, a.JWTSecret)
		setString(&c.Auth.Issuer, a.Issuer)
	}
	if r := f.Relay; r != nil {
		d.set(&c.Relay.PersistTimeout, "relay.persist_timeout", r.PersistTimeout)
	}
	if rl := f.RateLimit; rl != nil {
		setInt(&c.RateLimit.Limit, rl.Limit)
		d.set(&c.RateLimit.Window, "rate_limit.window", rl.Window)
		d.set(&c.RateLimit.CleanupInterval, "rate_limit.cleanup_interval", rl.CleanupInterval)
	}
	if al := f.Alert; al != nil {
		setString(&c.Alert.EmergencyPhone, al.EmergencyPhone)
		setString(&c.Alert.EmergencyEmail, al.EmergencyEmail)
	}
	if l := f.Log; l != nil {
		setString(&c.Log.Level, l.Level)
		setString(&c.Log.Format, l.Format)
	}
	return d.err
}

// durations parses duration strings, keeping the first error.
type durations struct{ err error }

func (d *durations) set(dst *time.Duration, field, raw string) {
	if raw == "" || d.err != nil {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		d.err = fmt.Errorf("%s: %w", field, err)
		return
	}
	*dst = v
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}
