package httpkit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClient_Timeouts(t *testing.T) {
	tests := []struct {
		name string
		opts []ClientOption
		want time.Duration
	}{
		{"default", nil, 30 * time.Second},
		{"custom", []ClientOption{WithTimeout(5 * time.Second)}, 5 * time.Second},
		{"disabled", []ClientOption{WithTimeout(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewClient(tt.opts...).Timeout; got != tt.want {
				t.Errorf("Timeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func echoUserAgent(t *testing.T, c *http.Client, preset string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if preset != "" {
		req.Header.Set("User-Agent", preset)
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestNewClient_UserAgent(t *testing.T) {
	if got := echoUserAgent(t, NewClient(), ""); !strings.HasPrefix(got, "meetly/") {
		t.Errorf("default User-Agent = %q, want meetly/ prefix", got)
	}
	if got := echoUserAgent(t, NewClient(WithTimeout(0), WithTransport(NewTransport())), ""); !strings.HasPrefix(got, "meetly/") {
		t.Errorf("User-Agent with custom transport = %q, want meetly/ prefix", got)
	}
	if got := echoUserAgent(t, NewClient(), "Caller/2.0"); got != "Caller/2.0" {
		t.Errorf("preset User-Agent overwritten: %q", got)
	}
}

func TestReadErrorBody(t *testing.T) {
	rc := io.NopCloser(strings.NewReader("quota exceeded for project"))
	if got := ReadErrorBody(rc, 5); got != "quota" {
		t.Errorf("ReadErrorBody = %q, want %q", got, "quota")
	}
	if got := ReadErrorBody(nil, 5); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}
