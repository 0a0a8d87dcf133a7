// Package directory fetches wgPeer entries from an LDAP server.
package directory

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"wgsync/config"
	"wgsync/internal/reconcile"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
)

const (
	dialTimeout       = 10 * time.Second
	defaultKrb5Config = "/etc/krb5.conf"
)

// ErrUnsupportedAuth is returned for authentication settings the client
// cannot honour.
var ErrUnsupportedAuth = errors.New("unsupported directory authentication")

var _ reconcile.Directory = (*Client)(nil)

// Client searches one directory for wgPeer entries. Each Search opens and
// closes its own connection.
type Client struct {
	cfg config.Directory
}

// New returns a client for cfg.
func New(cfg config.Directory) *Client {
	return &Client{cfg: cfg}
}

// Filter returns the search filter for the configured fragment.
func Filter(fragment string) string {
	return "(&" + strings.TrimSpace(fragment) + "(objectClass=" + reconcile.PeerObjectClass + "))"
}

// Search returns every wgPeer entry below the base DN that matches the
// configured filter.
func (c *Client) Search(ctx context.Context) ([]reconcile.Entry, error) {
	// An unbalanced fragment can absorb the objectClass clause and still
	// compile as part of the whole filter, so check it on its own first.
	if frag := strings.TrimSpace(c.cfg.Filter); frag != "" {
		if _, err := ldap.CompileFilter(frag); err != nil {
			return nil, fmt.Errorf("compile filter fragment %q: %w", frag, err)
		}
	}
	filter := Filter(c.cfg.Filter)
	if _, err := ldap.CompileFilter(filter); err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", filter, err)
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	req := ldap.NewSearchRequest(
		c.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		reconcile.PeerAttributes,
		nil,
	)
	slog.Debug("Searching directory.", "base_dn", c.cfg.BaseDN, "filter", filter)
	res, err := conn.Search(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("search %s: %w", c.cfg.BaseDN, err)
	}

	entries := make([]reconcile.Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		entries = append(entries, toEntry(e))
	}
	return entries, nil
}

func (c *Client) connect(ctx context.Context) (*ldap.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse directory url: %w", err)
	}
	tlsCfg, err := tlsConfig(u.Hostname(), c.cfg.RootCertificate)
	if err != nil {
		return nil, err
	}

	conn, err := ldap.DialURL(c.cfg.URL,
		ldap.DialWithTLSConfig(tlsCfg),
		ldap.DialWithDialer(&net.Dialer{Timeout: dialTimeout}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", c.cfg.URL, err)
	}

	if c.cfg.StartTLS {
		if err := conn.StartTLS(tlsCfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("start tls with %s: %w", u.Host, err)
		}
	}

	if err := bind(conn, c.cfg.Auth, u.Hostname()); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func bind(conn *ldap.Conn, auth config.Auth, host string) error {
	switch auth.Type {
	case config.AuthNone, "":
		return nil
	case config.AuthSimple:
		if err := conn.Bind(auth.BindDN, auth.BindPassword); err != nil {
			return fmt.Errorf("simple bind as %s: %w", auth.BindDN, err)
		}
		return nil
	case config.AuthGSSAPI:
		principal, err := servicePrincipal(auth, host)
		if err != nil {
			return err
		}
		krb5conf := auth.Krb5Config
		if krb5conf == "" {
			krb5conf = defaultKrb5Config
		}
		client, err := gssapi.NewClientFromCCache(credentialCache(), krb5conf)
		if err != nil {
			return fmt.Errorf("load kerberos credentials: %w", err)
		}
		defer client.Close()
		if err := conn.GSSAPIBind(client, principal, ""); err != nil {
			return fmt.Errorf("gssapi bind to %s: %w", principal, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: mode %q", ErrUnsupportedAuth, auth.Type)
	}
}

// servicePrincipal only supports targeting the URL host directly; matching
// the acceptor's advertised hostname is not implemented.
func servicePrincipal(auth config.Auth, host string) (string, error) {
	if !auth.IgnoreAcceptorHostname {
		return "", fmt.Errorf("%w: gssapi requires ignore_acceptor_hostname: true", ErrUnsupportedAuth)
	}
	if host == "" {
		return "", fmt.Errorf("%w: gssapi needs a host in the directory url", ErrUnsupportedAuth)
	}
	return "ldap/" + host, nil
}

func credentialCache() string {
	if v := strings.TrimSpace(os.Getenv("KRB5CCNAME")); v != "" {
		return strings.TrimPrefix(v, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func tlsConfig(serverName, rootCertificate string) (*tls.Config, error) {
	cfg := &tls.Config{ServerName: serverName, MinVersion: tls.VersionTLS12}
	if rootCertificate == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(rootCertificate)
	if err != nil {
		return nil, fmt.Errorf("read root certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("root certificate %s: no PEM certificates found", rootCertificate)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func toEntry(e *ldap.Entry) reconcile.Entry {
	out := reconcile.NewEntry(e.DN)
	for _, attr := range e.Attributes {
		out.Add(attr.Name, attr.ByteValues...)
	}
	return out
}
