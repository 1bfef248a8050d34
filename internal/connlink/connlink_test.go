package connlink

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/syntaxvpn/vpnpool/internal/config"
)

func testServers() []config.Server {
	return []config.Server{
		{Name: "germany", Label: "Germany", Host: "de.example.net", Port: 443, SNI: "www.microsoft.com", PublicKey: "pbkDE", ShortID: "ab12", Fingerprint: "safari"},
		{Name: "finland", Host: "2001:db8::1", Port: 8443, SNI: "www.apple.com", PublicKey: "pbkFI", ShortID: "cd34", Fingerprint: "chrome"},
	}
}

func TestLink(t *testing.T) {
	g := New(testServers(), "")
	got, err := g.Link("7f1c", "germany", "")
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	want := "vless://7f1c@de.example.net:443?encryption=none&security=reality&sni=www.microsoft.com&fp=safari&pbk=pbkDE&sid=ab12&type=tcp#Germany"
	if got != want {
		t.Fatalf("Link() =\n%s\nwant\n%s", got, want)
	}
	again, _ := g.Link("7f1c", "germany", "")
	if again != got {
		t.Fatalf("link must be deterministic")
	}

	custom, _ := g.Link("7f1c", "germany", "My VPN")
	if !strings.HasSuffix(custom, "#My%20VPN") {
		t.Fatalf("expected escaped label, got %s", custom)
	}
	if _, errUnknown := g.Link("7f1c", "mars", ""); errUnknown == nil {
		t.Fatalf("expected error for unknown server")
	}
}

func TestLinksAndEncode(t *testing.T) {
	g := New(testServers(), "SyntaxVPN")
	links := g.Links("id-1")
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}
	if !strings.HasPrefix(links[1], "vless://id-1@[2001:db8::1]:8443?") || !strings.HasSuffix(links[1], "#SyntaxVPN%20finland") {
		t.Fatalf("unexpected finland link %s", links[1])
	}

	decoded, err := base64.StdEncoding.DecodeString(Encode(links))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != links[0]+"\n"+links[1] {
		t.Fatalf("unexpected subscription body %q", decoded)
	}
}
