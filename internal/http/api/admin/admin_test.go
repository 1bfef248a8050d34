package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/syntaxvpn/vpnpool/internal/config"
	"github.com/syntaxvpn/vpnpool/internal/db"
	"github.com/syntaxvpn/vpnpool/internal/pool"
	"github.com/syntaxvpn/vpnpool/internal/report"
	"github.com/syntaxvpn/vpnpool/internal/security"
	"github.com/syntaxvpn/vpnpool/internal/selector"
)

type fakeReports struct{}

func (fakeReports) Stats(context.Context) (report.Stats, error) {
	return report.Stats{TotalUsers: 3, ActiveSubscriptions: 2, Revenue: 398, FreeIdentifiers: 5}, nil
}

func (fakeReports) Users(_ context.Context, _ int, search string) ([]report.UserReport, error) {
	if search != "" && search != "neo" {
		return []report.UserReport{}, nil
	}
	return []report.UserReport{{TelegramID: 1, Username: "neo"}}, nil
}

func (fakeReports) Pool(context.Context) (pool.Stats, error) {
	return pool.Stats{
		Servers: []pool.ServerStats{{Server: "de", Used: 2, Total: 5}},
		Free:    3,
		Total:   5,
	}, nil
}

func (fakeReports) Connections(context.Context) ([]report.ConnectionReport, error) {
	return nil, nil
}

type fakeLoads []selector.ServerLoad

func (f fakeLoads) Snapshot(context.Context) []selector.ServerLoad { return f }

func newRouter(t *testing.T, secret string) *gin.Engine {
	t.Helper()
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "admin-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	loads := fakeLoads{
		{Name: "de", Occupancy: 10, MaxUsers: 80, Known: true, Eligible: true},
		{Name: "fi", Occupancy: 5, MaxUsers: 80, Known: true, Eligible: true},
	}
	RegisterAdminRoutes(r, conn, config.JWTConfig{Secret: secret, Expiry: time.Hour}, fakeReports{}, loads)
	return r
}

func do(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	w := do(newRouter(t, "secret"), "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	r := newRouter(t, "secret")
	valid, err := security.IssueAdminToken("secret", "ops", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	foreign, err := security.IssueAdminToken("other", "ops", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{name: "missing", header: "", code: http.StatusUnauthorized},
		{name: "bad scheme", header: "Token " + valid, code: http.StatusUnauthorized},
		{name: "empty", header: "Bearer  ", code: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + foreign, code: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + valid, code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(r, "/v0/admin/stats", tt.header); w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
		})
	}
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	w := do(newRouter(t, ""), "/v0/admin/stats", "Bearer x")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestAdminReports(t *testing.T) {
	r := newRouter(t, "secret")
	token, err := security.IssueAdminToken("secret", "", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	bearer := "Bearer " + token

	w := do(r, "/v0/admin/stats", bearer)
	var stats report.Stats
	if errDecode := json.Unmarshal(w.Body.Bytes(), &stats); errDecode != nil {
		t.Fatalf("decode stats: %v", errDecode)
	}
	if stats.TotalUsers != 3 || stats.FreeIdentifiers != 5 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	w = do(r, "/v0/admin/pool", bearer)
	var poolBody struct {
		Free    int64 `json:"free"`
		Servers []struct {
			Server string `json:"server"`
			Free   int64  `json:"free"`
		} `json:"servers"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &poolBody); errDecode != nil {
		t.Fatalf("decode pool: %v", errDecode)
	}
	if poolBody.Free != 3 || len(poolBody.Servers) != 1 || poolBody.Servers[0].Free != 3 {
		t.Fatalf("unexpected pool body %s", w.Body.String())
	}

	w = do(r, "/v0/admin/servers", bearer)
	var servers struct {
		Selected  string `json:"selected"`
		Available bool   `json:"available"`
	}
	if errDecode := json.Unmarshal(w.Body.Bytes(), &servers); errDecode != nil {
		t.Fatalf("decode servers: %v", errDecode)
	}
	if servers.Selected != "fi" || !servers.Available {
		t.Fatalf("unexpected servers body %s", w.Body.String())
	}

	if w = do(r, "/v0/admin/users?limit=abc", bearer); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
	if w = do(r, "/v0/admin/users?limit=10", bearer); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for users, got %d", w.Code)
	}
	var found struct {
		Users []report.UserReport `json:"users"`
	}
	w = do(r, "/v0/admin/users?q=trinity", bearer)
	if errDecode := json.Unmarshal(w.Body.Bytes(), &found); errDecode != nil {
		t.Fatalf("decode users: %v", errDecode)
	}
	if len(found.Users) != 0 {
		t.Fatalf("expected search to filter users, got %s", w.Body.String())
	}
	if w = do(r, "/v0/admin/connections", bearer); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for connections, got %d", w.Code)
	}
}
