package proxybridge

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orcabot/container-agent/internal/mockorchestrator"
	"github.com/orcabot/container-agent/internal/orchestrator"
)

// fakeLocalhostClient resolves every machine id to 127.0.0.1, letting
// tests forward to a real httptest.Server without faking out the
// orchestrator's full machine-lifecycle surface.
type fakeLocalhostClient struct{}

func (fakeLocalhostClient) CreateMachine(orchestrator.MachineSpec, string) (string, error) {
	return "", nil
}
func (fakeLocalhostClient) GetMachineStatus(string) (*orchestrator.Machine, error) { return nil, nil }
func (fakeLocalhostClient) GetMachineIP(string) (net.IP, error)                    { return net.ParseIP("127.0.0.1"), nil }

func TestParseProxyPath(t *testing.T) {
	cases := []struct {
		path        string
		wantID      string
		wantRest    string
		wantPreview bool
		wantOK      bool
	}{
		{"/proxy/abc123/preview/index.html", "abc123", "index.html", true, true},
		{"/proxy/abc123/preview", "abc123", "", true, true},
		{"/proxy/abc123/some/path", "abc123", "some/path", false, true},
		{"/proxy/abc123", "abc123", "", false, true},
		{"/not-proxy/abc123", "", "", false, false},
		{"/proxy/", "", "", false, false},
	}

	for _, tc := range cases {
		id, rest, preview, ok := parseProxyPath(tc.path)
		assert.Equal(t, tc.wantOK, ok, tc.path)
		if !tc.wantOK {
			continue
		}
		assert.Equal(t, tc.wantID, id, tc.path)
		assert.Equal(t, tc.wantRest, rest, tc.path)
		assert.Equal(t, tc.wantPreview, preview, tc.path)
	}
}

func TestServeHTTPUnknownMachine(t *testing.T) {
	mock := mockorchestrator.New()
	future := orchestrator.NewFuture(func() (orchestrator.Client, error) { return mock, nil })
	b := New(future)

	req := httptest.NewRequest(http.MethodGet, "/proxy/nonexistent/preview/", nil)
	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestForwardPreviewStreamsUpstreamResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hello", r.URL.Path)
		w.Write([]byte("hi"))
	}))
	defer upstream.Close()

	port := upstream.URL[strings.LastIndexByte(upstream.URL, ':')+1:]

	future := orchestrator.NewFuture(func() (orchestrator.Client, error) { return fakeLocalhostClient{}, nil })
	b := New(future)

	req := httptest.NewRequest(http.MethodGet, "/proxy/any-machine/preview/hello?port="+port, nil)
	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hi", rec.Body.String())
}
