package fmg

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"pkt.systems/fmg/api"
	"pkt.systems/fmg/client"
)

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{BaseURL: "https://fmg.example/ ", Username: " admin "}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.BaseURL != "https://fmg.example/jsonrpc" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.Username != "admin" || cfg.ADOM != DefaultADOM {
		t.Fatalf("unexpected identity %q/%q", cfg.Username, cfg.ADOM)
	}
	if cfg.Timeout != DefaultTimeout || cfg.PollInterval != DefaultPollInterval || cfg.TaskTimeout != DefaultTaskTimeout {
		t.Fatalf("unexpected durations %v %v %v", cfg.Timeout, cfg.PollInterval, cfg.TaskTimeout)
	}
	if cfg.RaiseOnError == nil || !*cfg.RaiseOnError {
		t.Fatal("expected raise_on_error default true")
	}
	if cfg.DiscardOnError == nil || !*cfg.DiscardOnError || cfg.DiscardOnClose {
		t.Fatal("unexpected discard defaults")
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]Config{
		"no url":       {Username: "admin"},
		"bad scheme":   {BaseURL: "ftp://fmg", Username: "admin"},
		"no user":      {BaseURL: "https://fmg"},
		"neg duration": {BaseURL: "https://fmg", Username: "admin", Timeout: -time.Second},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	cfg := Config{Username: "admin"}
	if err := cfg.Validate(); !errors.Is(err, client.ErrRequest) {
		t.Fatalf("expected ErrRequest for missing url, got %v", err)
	}
}

func TestOpenAppliesConfig(t *testing.T) {
	var login api.Credentials
	tr := client.TransportFunc(func(_ context.Context, req *api.Request) (*api.Response, error) {
		if req.Params[0].URL == api.URLLogin {
			if creds, ok := req.Params[0].Data.(api.Credentials); ok {
				login = creds
			}
			return &api.Response{Result: []api.Result{{Status: api.Status{Message: "OK"}}}, Session: "tok"}, nil
		}
		return &api.Response{Result: []api.Result{{Status: api.Status{Message: "OK"}}}}, nil
	})
	raise := false
	cfg := Config{BaseURL: "http://fmg.local", Username: "api", Password: client.NewSecret("pw"), ADOM: "lab", RaiseOnError: &raise}
	s, err := Open(context.Background(), cfg, client.WithTransport(tr))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !s.Authenticated() || s.ADOM() != "lab" || s.RaiseOnError() {
		t.Fatalf("config not applied: adom=%s raise=%v", s.ADOM(), s.RaiseOnError())
	}
	if s.Endpoint() != "http://fmg.local/jsonrpc" {
		t.Fatalf("unexpected endpoint %s", s.Endpoint())
	}
	if login.User != "api" || login.Passwd != "pw" {
		t.Fatalf("unexpected login %+v", login)
	}
}

func TestDefaultConfigPathHonoursOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FMG_CONFIG_DIR", dir)
	path, err := DefaultConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join(dir, DefaultConfigFile) {
		t.Fatalf("unexpected path %s", path)
	}
}

func TestOpenTrustsCAFile(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(api.Response{
			ID:      req.ID,
			Result:  []api.Result{{Status: api.Status{Message: "OK"}, URL: req.Params[0].URL}},
			Session: "tls-token",
		})
	}))
	defer srv.Close()

	cfg := Config{BaseURL: srv.URL, Username: "api", Password: client.NewSecret("pw")}
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("expected certificate verification failure without ca_file")
	}

	path := filepath.Join(t.TempDir(), "fmg.pem")
	body := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg.CAFile = path
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open with ca_file: %v", err)
	}
	if !s.Authenticated() {
		t.Fatal("expected session token")
	}

	cfg.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unreadable ca_file")
	}
}

func TestConfigNeverRendersPassword(t *testing.T) {
	const password = "hunter2-fmg-api-password"
	var cfg Config
	if err := yaml.Unmarshal([]byte("base_url: https://fmg\nusername: api\npassword: "+password+"\n"), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Password.Reveal() != password {
		t.Fatalf("password not decoded: %q", cfg.Password.Reveal())
	}
	if err := json.Unmarshal([]byte(`"`+password+`"`), &cfg.Password); err != nil || cfg.Password.Reveal() != password {
		t.Fatalf("json decode: %v", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode yaml: %v", err)
	}
	js, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode json: %v", err)
	}
	rendered := map[string]string{
		"yaml": string(out),
		"json": string(js),
		"%v":   fmt.Sprintf("%v", cfg),
		"%+v":  fmt.Sprintf("%+v", cfg),
		"%#v":  fmt.Sprintf("%#v", cfg),
	}
	for form, text := range rendered {
		if strings.Contains(text, password) {
			t.Fatalf("%s form leaks the password: %s", form, text)
		}
	}
}
