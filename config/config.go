// Package config loads the wgsync configuration file.
//
// The file is YAML with two sections: directory describes where the wgPeer
// entries live and how to authenticate, interface names the WireGuard device
// and how its peer list and listen port are reconciled.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"wgsync/internal/reconcile"

	"github.com/go-ldap/ldap/v3"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no config path is given.
const DefaultPath = "config.yaml"

// Authentication modes.
const (
	AuthNone   = "none"
	AuthSimple = "simple"
	AuthGSSAPI = "gssapi"
)

// Auth selects how the directory session is authenticated.
type Auth struct {
	Type             string `yaml:"type"`
	BindDN           string `yaml:"bind_dn,omitempty"`
	BindPassword     string `yaml:"bind_password,omitempty"`
	BindPasswordFile string `yaml:"bind_password_file,omitempty"`

	// IgnoreAcceptorHostname binds with the service principal built from the
	// URL host instead of the name the server presents.
	IgnoreAcceptorHostname bool   `yaml:"ignore_acceptor_hostname,omitempty"`
	Krb5Config             string `yaml:"krb5_config,omitempty"`
}

// Directory describes the LDAP server holding wgPeer entries.
type Directory struct {
	URL             string `yaml:"url"`
	StartTLS        bool   `yaml:"start_tls,omitempty"`
	RootCertificate string `yaml:"root_certificate,omitempty"`
	BaseDN          string `yaml:"base_dn"`
	Auth            Auth   `yaml:"auth"`
	Filter          string `yaml:"filter,omitempty"`
}

// Interface describes the local WireGuard device.
type Interface struct {
	DeviceName                     string `yaml:"device_name"`
	ListenPort                     *int   `yaml:"listen_port,omitempty"`
	MatchListenPortToLocalEndpoint bool   `yaml:"match_listen_port_to_local_endpoint,omitempty"`
	RemoveExtraPeers               bool   `yaml:"remove_extra_peers"`
	ReplaceAllowedIPs              bool   `yaml:"replace_allowed_ips,omitempty"`
}

// Config is the whole configuration file.
type Config struct {
	LogLevel  string    `yaml:"log_level,omitempty"`
	Directory Directory `yaml:"directory"`
	Interface Interface `yaml:"interface"`
}

// ValidationError reports an invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

// Load reads, defaults and validates the file at path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.Directory.URL = strings.TrimSpace(c.Directory.URL)
	c.Directory.BaseDN = strings.TrimSpace(c.Directory.BaseDN)
	c.Directory.Filter = strings.TrimSpace(c.Directory.Filter)
	c.Interface.DeviceName = strings.TrimSpace(c.Interface.DeviceName)

	a := &c.Directory.Auth
	a.Type = strings.ToLower(strings.TrimSpace(a.Type))
	if a.Type == "" {
		a.Type = AuthNone
	}
	if a.BindPasswordFile != "" {
		data, err := os.ReadFile(a.BindPasswordFile)
		if err != nil {
			return fmt.Errorf("read bind password: %w", err)
		}
		a.BindPassword = strings.TrimRight(string(data), "\r\n")
	}
	return nil
}

// Validate checks the settings without touching the network.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Directory.URL)
	if err != nil || c.Directory.URL == "" {
		return &ValidationError{Field: "directory.url", Message: "a valid URL is required"}
	}
	switch u.Scheme {
	case "ldap", "ldaps", "ldapi":
	default:
		return &ValidationError{Field: "directory.url", Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Scheme != "ldapi" && u.Hostname() == "" {
		return &ValidationError{Field: "directory.url", Message: "host is required"}
	}
	if c.Directory.StartTLS && u.Scheme == "ldaps" {
		return &ValidationError{Field: "directory.start_tls", Message: "cannot be combined with ldaps://"}
	}
	if c.Directory.BaseDN == "" {
		return &ValidationError{Field: "directory.base_dn", Message: "is required"}
	}
	if f := c.Directory.Filter; f != "" {
		if _, err := ldap.CompileFilter(f); err != nil {
			return &ValidationError{Field: "directory.filter", Message: err.Error()}
		}
	}

	a := c.Directory.Auth
	switch a.Type {
	case AuthNone, AuthGSSAPI:
	case AuthSimple:
		if strings.TrimSpace(a.BindDN) == "" {
			return &ValidationError{Field: "directory.auth.bind_dn", Message: "is required for simple bind"}
		}
		if a.BindPassword == "" {
			return &ValidationError{Field: "directory.auth.bind_password", Message: "is required for simple bind"}
		}
	default:
		return &ValidationError{Field: "directory.auth.type", Message: fmt.Sprintf("unknown mode %q (want none, simple or gssapi)", a.Type)}
	}

	if c.Interface.DeviceName == "" {
		return &ValidationError{Field: "interface.device_name", Message: "is required"}
	}
	if p := c.Interface.ListenPort; p != nil && (*p < 0 || *p > 65535) {
		return &ValidationError{Field: "interface.listen_port", Message: fmt.Sprintf("%d is out of range", *p)}
	}
	return nil
}

// Options projects the interface section onto reconcile options.
func (c *Config) Options() reconcile.Options {
	opts := reconcile.Options{
		MatchListenPortToLocalEndpoint: c.Interface.MatchListenPortToLocalEndpoint,
		RemoveExtraPeers:               c.Interface.RemoveExtraPeers,
		ReplaceAllowedIPs:              c.Interface.ReplaceAllowedIPs,
	}
	if c.Interface.ListenPort != nil {
		p := *c.Interface.ListenPort
		opts.ListenPort = &p
	}
	return opts
}

// IsValidation reports whether err is a configuration validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
