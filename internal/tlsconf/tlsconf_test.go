package tlsconf

import (
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func startTLS(t *testing.T, passphrase string) *httptest.Server {
	t.Helper()
	cfg, err := ServerConfig(passphrase)
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"status":"ok"}`)
	}))
	srv.TLS = cfg
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPClient_MatchingPassphrase(t *testing.T) {
	srv := startTLS(t, "correct horse")
	client, err := HTTPClient("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHTTPClient_WrongPassphrase(t *testing.T) {
	srv := startTLS(t, "correct horse")
	client, err := HTTPClient("battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Get(srv.URL); err == nil {
		t.Fatal("expected handshake failure")
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	a, err := deriveKey("pass")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := deriveKey("pass")
	c, _ := deriveKey("other")
	if a.D.Cmp(b.D) != 0 {
		t.Error("same passphrase gave different keys")
	}
	if a.D.Cmp(c.D) == 0 {
		t.Error("different passphrases gave the same key")
	}
}

func TestEmptyPassphrase(t *testing.T) {
	if _, err := ServerConfig(""); !errors.Is(err, ErrEmptyPassphrase) {
		t.Errorf("ServerConfig err = %v", err)
	}
	if _, err := ClientCredentials(""); !errors.Is(err, ErrEmptyPassphrase) {
		t.Errorf("ClientCredentials err = %v", err)
	}
}

func TestServerConfig(t *testing.T) {
	cfg, err := ServerConfig("pass")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinVersion != tls.VersionTLS13 || len(cfg.Certificates) != 1 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	creds, err := ClientCredentials("pass")
	if err != nil || creds.Info().SecurityProtocol != "tls" {
		t.Errorf("creds = %v, %v", creds, err)
	}
}
