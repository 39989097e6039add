package virustotal_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repscreen/repscreen/internal/adapter/driven/virustotal"
	"github.com/repscreen/repscreen/internal/domain/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *virustotal.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return virustotal.NewClientWithHTTPClient(srv.Client(), srv.URL)
}

func TestLookup_AddressEndpoint(t *testing.T) {
	var gotPath, gotIP, gotKey string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotIP = r.URL.Query().Get("ip")
		gotKey = r.URL.Query().Get("apikey")
		_, _ = w.Write([]byte(`{"response_code": 1, "positives": 7}`))
	})

	signals, err := client.Lookup(context.Background(), model.EntryKindAddress, "198.51.100.7", "secret-key")
	require.NoError(t, err)

	assert.Equal(t, 7, signals)
	assert.Equal(t, "/ip-address/report", gotPath)
	assert.Equal(t, "198.51.100.7", gotIP)
	assert.Equal(t, "secret-key", gotKey)
}

func TestLookup_NameEndpoint(t *testing.T) {
	var gotPath, gotDomain string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotDomain = r.URL.Query().Get("domain")
		_, _ = w.Write([]byte(`{"response_code": 1, "positives": 0}`))
	})

	signals, err := client.Lookup(context.Background(), model.EntryKindName, "example.com", "secret-key")
	require.NoError(t, err)

	assert.Equal(t, 0, signals)
	assert.Equal(t, "/domain/report", gotPath)
	assert.Equal(t, "example.com", gotDomain)
}

func TestLookup_UnknownEntryIsZeroSignal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"response_code": 0, "verbose_msg": "not found"}`))
	})

	signals, err := client.Lookup(context.Background(), model.EntryKindAddress, "203.0.113.9", "secret-key")
	require.NoError(t, err)
	assert.Equal(t, 0, signals)
}

func TestLookup_NonOKStatusIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := client.Lookup(context.Background(), model.EntryKindAddress, "203.0.113.9", "bad-key")
	assert.ErrorContains(t, err, "status 403")
}

func TestLookup_MalformedBodyIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})

	_, err := client.Lookup(context.Background(), model.EntryKindName, "example.com", "secret-key")
	assert.ErrorContains(t, err, "decode report")
}

func TestLookup_UnknownKindIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected for an unknown kind")
	})

	_, err := client.Lookup(context.Background(), model.EntryKind("url"), "example.com", "secret-key")
	assert.ErrorContains(t, err, "unknown entry kind")
}
