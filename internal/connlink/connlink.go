// Package connlink derives client connection material for VPN servers.
package connlink

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/syntaxvpn/vpnpool/internal/config"
)

// Generator builds VLESS+REALITY links from static server configuration.
type Generator struct {
	servers []config.Server
	brand   string
}

// New constructs a Generator. Links keeps the configured server order and
// prefixes labels with brand.
func New(servers []config.Server, brand string) *Generator {
	cp := make([]config.Server, len(servers))
	copy(cp, servers)
	return &Generator{servers: cp, brand: strings.TrimSpace(brand)}
}

func (g *Generator) label(srv config.Server) string {
	if g.brand == "" {
		return srv.DisplayLabel()
	}
	return g.brand + " " + srv.DisplayLabel()
}

// Link returns the connection URI of identifier on the named server.
// An empty label falls back to the branded server label.
func (g *Generator) Link(identifier, server, label string) (string, error) {
	for _, srv := range g.servers {
		if srv.Name == server {
			if strings.TrimSpace(label) == "" {
				label = g.label(srv)
			}
			return Build(identifier, srv, label), nil
		}
	}
	return "", fmt.Errorf("connlink: unknown server %q", server)
}

// Links returns one URI per configured server for identifier.
func (g *Generator) Links(identifier string) []string {
	out := make([]string, 0, len(g.servers))
	for _, srv := range g.servers {
		out = append(out, Build(identifier, srv, g.label(srv)))
	}
	return out
}

// Build formats the VLESS URI. It is a pure function of its inputs.
func Build(identifier string, srv config.Server, label string) string {
	q := []string{
		"encryption=none",
		"security=reality",
		"sni=" + url.QueryEscape(srv.SNI),
		"fp=" + url.QueryEscape(srv.Fingerprint),
		"pbk=" + url.QueryEscape(srv.PublicKey),
		"sid=" + url.QueryEscape(srv.ShortID),
		"type=tcp",
	}
	host := srv.Host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return "vless://" + identifier + "@" + host + ":" + strconv.Itoa(srv.Port) +
		"?" + strings.Join(q, "&") + "#" + url.PathEscape(label)
}

// Encode returns the subscription body: base64 of newline-joined links.
func Encode(links []string) string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(links, "\n")))
}
