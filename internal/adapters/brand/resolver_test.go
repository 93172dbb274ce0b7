package brand

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/adapters/doh"
	"github.com/mikey/sender-trust/internal/adapters/favicon"
	"github.com/mikey/sender-trust/internal/core"
)

const placeholderBody = "GENERIC-PLACEHOLDER-ICON"

// fakeBackends serves a JSON DoH endpoint and a favicon service from one
// test server. bimiRecords maps query names to TXT record payloads;
// realIcons lists domains that have a non-placeholder favicon.
func fakeBackends(t *testing.T, bimiRecords map[string]string, realIcons map[string]string) (*doh.Client, *favicon.Prober) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/resolve", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		record, ok := bimiRecords[name]
		if !ok {
			fmt.Fprint(w, `{"Status":3,"Answer":[]}`)
			return
		}
		fmt.Fprintf(w, `{"Status":0,"Answer":[{"name":%q,"type":16,"data":%q}]}`, name, record)
	})
	mux.HandleFunc("/icon/", func(w http.ResponseWriter, r *http.Request) {
		domain := strings.TrimPrefix(r.URL.Path, "/icon/")
		if body, ok := realIcons[domain]; ok {
			fmt.Fprint(w, body)
			return
		}
		fmt.Fprint(w, placeholderBody)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	logger := zap.NewNop()
	dohClient := doh.NewClient(srv.URL+"/resolve", 2*time.Second, 100, logger)
	prober := favicon.NewProber(srv.URL+"/icon/%s", "nonexistent-reference.invalid", 2*time.Second, logger)
	return dohClient, prober
}

func newResolver(t *testing.T, bimi map[string]string, icons map[string]string) *Resolver {
	d, p := fakeBackends(t, bimi, icons)
	return NewResolver(d, p, zap.NewNop())
}

func TestResolveBIMIOnFullDomain(t *testing.T) {
	r := newResolver(t, map[string]string{
		"default._bimi.news.stripe.com": "v=BIMI1; l=https://stripe.com/logo.svg;",
	}, nil)

	info, err := r.Resolve(context.Background(), "news.stripe.com")
	require.NoError(t, err)
	assert.Equal(t, core.LogoSourceBIMI, info.LogoSource)
	assert.Equal(t, "https://stripe.com/logo.svg", info.LogoURL)
	assert.Equal(t, "stripe.com", info.RootDomain)
}

func TestResolveBIMIFallsBackToRootDomain(t *testing.T) {
	r := newResolver(t, map[string]string{
		"default._bimi.stripe.com": "v=BIMI1; l=https://stripe.com/logo.svg;",
	}, nil)

	info, err := r.Resolve(context.Background(), "newsletter.stripe.com")
	require.NoError(t, err)
	assert.Equal(t, core.LogoSourceBIMI, info.LogoSource)
}

func TestResolveRejectsNonSVGLogo(t *testing.T) {
	r := newResolver(t, map[string]string{
		"default._bimi.example.com": "v=BIMI1; l=https://example.com/logo.png;",
	}, map[string]string{
		"example.com": "real-icon-bytes",
	})

	info, err := r.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	// The PNG record is ignored; the chain continues to the favicon.
	assert.Equal(t, core.LogoSourceFavicon, info.LogoSource)
}

func TestResolveFaviconSource(t *testing.T) {
	r := newResolver(t, nil, map[string]string{
		"example.com": "real-icon-bytes",
	})

	info, err := r.Resolve(context.Background(), "mail.example.com")
	require.NoError(t, err)
	assert.Equal(t, core.LogoSourceFavicon, info.LogoSource)
	assert.Contains(t, info.LogoURL, "example.com")
}

func TestResolveGenericPlaceholderMeansUnknown(t *testing.T) {
	// No BIMI record and the favicon service serves the same bytes as the
	// known-nonexistent reference domain.
	r := newResolver(t, nil, nil)

	info, err := r.Resolve(context.Background(), "obscure-sender.net")
	require.NoError(t, err)
	assert.Equal(t, core.LogoSourceUnknown, info.LogoSource)
	assert.Empty(t, info.LogoURL)
}

func TestResolveAlwaysEmitsThreeCandidates(t *testing.T) {
	r := newResolver(t, nil, nil)

	info, err := r.Resolve(context.Background(), "mail.example.co.uk")
	require.NoError(t, err)

	assert.Equal(t, "mail.example.co.uk", info.Favicons.Sub.Host)
	assert.Equal(t, "example.co.uk", info.Favicons.Root.Host)
	assert.Equal(t, "www.example.co.uk", info.Favicons.WWW.Host)
	for _, c := range []core.FaviconCandidate{info.Favicons.Sub, info.Favicons.Root, info.Favicons.WWW} {
		assert.NotEmpty(t, c.ServiceURL)
		assert.Equal(t, "https://"+c.Host+"/favicon.ico", c.DirectURL)
	}
}

func TestResolveEmptyDomain(t *testing.T) {
	r := newResolver(t, nil, nil)

	_, err := r.Resolve(context.Background(), "  ")
	assert.Error(t, err)
}

func TestResolveNetworkFailureDegrades(t *testing.T) {
	// Endpoints that are immediately unreachable: the chain must still
	// produce a SenderInfo, with favicon source since the generic detector
	// cannot confirm a placeholder.
	logger := zap.NewNop()
	dohClient := doh.NewClient("http://127.0.0.1:1/resolve", 200*time.Millisecond, 100, logger)
	prober := favicon.NewProber("http://127.0.0.1:1/icon/%s", "nonexistent-reference.invalid", 200*time.Millisecond, logger)
	r := NewResolver(dohClient, prober, logger)

	info, err := r.Resolve(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, core.LogoSourceFavicon, info.LogoSource)
}
