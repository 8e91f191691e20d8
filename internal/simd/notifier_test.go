package simd

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/simkernel/pkg/models"
	"github.com/GoSim-25-26J-441/simkernel/pkg/utils"
)

func TestValidateCallbackURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{name: "valid external URL", url: "https://example.com/callback"},
		{name: "valid localhost for development", url: "http://localhost:8000/callback"},
		{name: "invalid scheme", url: "ftp://example.com/callback", wantErr: ErrInvalidURL},
		{name: "missing hostname", url: "http:///callback", wantErr: ErrInvalidURL},
		{name: "metadata endpoint - IP", url: "http://169.254.169.254/metadata", wantErr: ErrMetadataEndpoint},
		{name: "metadata endpoint - hostname", url: "http://metadata.google.internal/metadata", wantErr: ErrMetadataEndpoint},
		{name: "wildcard address", url: "http://0.0.0.0:8000/callback", wantErr: ErrInternalHost},
		{name: "direct loopback IP", url: "http://127.0.0.1:8000/callback", wantErr: ErrInternalHost},
		{name: "private network", url: "http://10.1.2.3/callback", wantErr: ErrInternalHost},
		{name: "URL with run_id template", url: "http://localhost:8000/callback/{run_id}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCallbackURL(tt.url)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("validateCallbackURL() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validateCallbackURL() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		want bool
	}{
		{"public IP", "8.8.8.8", false},
		{"RFC 1918 - 10.0.0.0/8", "10.0.0.1", true},
		{"RFC 1918 - 172.16.0.0/12", "172.16.0.1", true},
		{"RFC 1918 - 192.168.0.0/16", "192.168.1.1", true},
		{"link-local", "169.254.0.1", true},
		{"loopback", "127.0.0.1", true},
		{"IPv6 loopback", "::1", true},
		{"IPv6 unique local", "fc00::1", true},
		{"IPv6 public", "2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("failed to parse IP: %s", tt.ip)
			}
			if got := isPrivateIP(ip); got != tt.want {
				t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

// localhostURL rewrites an httptest server URL to the localhost hostname,
// which callback validation accepts.
func localhostURL(t *testing.T, server *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("failed to parse server URL: %v", err)
	}
	return "http://localhost:" + u.Port()
}

func completedRecord(id string) *RunRecord {
	return &RunRecord{
		Run: models.Run{
			ID:              id,
			Status:          models.RunStatusCompleted,
			CreatedAtUnixMs: time.Now().UnixMilli(),
			EndedAtUnixMs:   time.Now().UnixMilli(),
		},
		Result: &models.RunResult{Status: models.RunStatusCompleted, FinalClock: 3},
	}
}

func TestNotifierNotify_Success(t *testing.T) {
	var (
		mu      sync.Mutex
		payload NotificationPayload
		agent   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}
		mu.Lock()
		defer mu.Unlock()
		agent = r.Header.Get("User-Agent")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier()
	notifier.Notify(localhostURL(t, server)+"/callback", "test-secret", completedRecord("test-run-123"))
	notifier.Wait()

	mu.Lock()
	defer mu.Unlock()
	if payload.RunID != "test-run-123" {
		t.Errorf("expected RunID test-run-123, got %s", payload.RunID)
	}
	if payload.Status != models.RunStatusCompleted {
		t.Errorf("expected status completed, got %s", payload.Status)
	}
	if payload.Result == nil || payload.Result.FinalClock != 3 {
		t.Errorf("expected result with final clock 3, got %+v", payload.Result)
	}
	if agent != "simkernel/1.0" {
		t.Errorf("expected User-Agent simkernel/1.0, got %s", agent)
	}
}

func TestNotifierNotify_WithSecret(t *testing.T) {
	var received atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Store(r.Header.Get("X-Simulation-Callback-Secret"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier()
	notifier.Notify(localhostURL(t, server)+"/callback", "my-secret-123", completedRecord("test-run-123"))
	notifier.Wait()

	if got, _ := received.Load().(string); got != "my-secret-123" {
		t.Errorf("expected secret 'my-secret-123', got '%s'", got)
	}
}

func TestNotifierNotify_URLTemplateSubstitution(t *testing.T) {
	var received atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewNotifier()
	notifier.Notify(localhostURL(t, server)+"/callback/{run_id}", "", completedRecord("run-abc-123"))
	notifier.Wait()

	if got, _ := received.Load().(string); got != "/callback/run-abc-123" {
		t.Errorf("expected path '/callback/run-abc-123', got '%s'", got)
	}
}

func TestNotifierNotify_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := NewNotifier(WithRetries(3, utils.NewConstantBackoff(0.01)))
	notifier.Notify(localhostURL(t, server), "", completedRecord("retried"))
	notifier.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestNotifierNotify_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewNotifier(WithRetries(2, utils.NewConstantBackoff(0.01)))
	notifier.Notify(localhostURL(t, server), "", completedRecord("failing"))
	notifier.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestNotifierNotify_EmptyURL(t *testing.T) {
	notifier := NewNotifier()
	notifier.Notify("", "", completedRecord("test-run"))
	notifier.Wait()
}

func TestNotifierNotify_InvalidURL(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	notifier := NewNotifier()
	// the loopback IP itself is blocked, only the localhost name is allowed
	notifier.Notify(server.URL+"/callback", "", completedRecord("test-run"))
	notifier.Wait()

	if got := calls.Load(); got != 0 {
		t.Errorf("expected no request to a direct IP, got %d", got)
	}
}

func TestGetCallbackSecret(t *testing.T) {
	tests := []struct {
		name     string
		rec      *RunRecord
		expected string
	}{
		{
			name:     "with secret",
			rec:      &RunRecord{Input: models.RunInput{CallbackSecret: "my-secret"}},
			expected: "my-secret",
		},
		{
			name:     "without secret",
			rec:      &RunRecord{},
			expected: "",
		},
		{
			name:     "nil record",
			rec:      nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getCallbackSecret(tt.rec); got != tt.expected {
				t.Errorf("getCallbackSecret() = %q, want %q", got, tt.expected)
			}
		})
	}
}
