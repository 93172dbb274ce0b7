package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/adapters/cache"
	"github.com/mikey/sender-trust/internal/core"
	"github.com/mikey/sender-trust/internal/locator"
	"github.com/mikey/sender-trust/internal/sanitize"
)

type stubResolver struct{}

func (r *stubResolver) Resolve(ctx context.Context, fullDomain string) (*core.SenderInfo, error) {
	return &core.SenderInfo{FullDomain: fullDomain, RootDomain: fullDomain, LogoSource: core.LogoSourceFavicon}, nil
}

type stubVerifier struct {
	auth *core.AuthResult
	err  error
}

func (v *stubVerifier) Verify(ctx context.Context, messageID string) (*core.AuthResult, error) {
	return v.auth, v.err
}

type stubProvider struct {
	avail    core.Availability
	response string
}

func (p *stubProvider) CheckAvailability(ctx context.Context) core.Availability { return p.avail }
func (p *stubProvider) ModelName() string                                       { return "stub" }
func (p *stubProvider) NewSession(ctx context.Context, systemInstruction string) (core.LLMSession, error) {
	return stubSession{p}, nil
}

type stubSession struct{ p *stubProvider }

func (s stubSession) Clone(ctx context.Context) (core.LLMClone, error) { return stubClone{s.p}, nil }
func (s stubSession) Close() error                                     { return nil }

type stubClone struct{ p *stubProvider }

func (c stubClone) Prompt(ctx context.Context, text string) (string, error) {
	return c.p.response, nil
}
func (c stubClone) Destroy() {}

func newTestServer(t *testing.T, verifier core.HeaderVerifier, provider core.LLMProvider) *Server {
	t.Helper()
	logger := zap.NewNop()
	trust := core.NewTrustService(&stubResolver{}, verifier, cache.NewMemoryCache(logger), logger, 24*time.Hour)
	ai := core.NewAiService(provider, sanitize.New(logger, 4096), logger, time.Second)
	return NewServer(trust, ai, locator.New(logger), "127.0.0.1:0", logger)
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSenderInfoEndpoint(t *testing.T) {
	s := newTestServer(t, &stubVerifier{}, &stubProvider{})

	rec := postJSON(t, s.Handler(), "/v1/sender-info", map[string]string{"email": "billing@stripe.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	var info core.SenderInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "stripe.com", info.FullDomain)
}

func TestSenderInfoEndpointRejectsBadAddress(t *testing.T) {
	s := newTestServer(t, &stubVerifier{}, &stubProvider{})

	rec := postJSON(t, s.Handler(), "/v1/sender-info", map[string]string{"email": "nonsense"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestVerifyEndpointLocatesMessageFromPage(t *testing.T) {
	auth := &core.AuthResult{SPF: core.AuthPass, DKIM: core.AuthPass, DMARC: core.AuthPass}
	s := newTestServer(t, &stubVerifier{auth: auth}, &stubProvider{})

	page := locator.PageSnapshot{
		HTML: `<div data-legacy-message-id="18c3385e337317e5"><span email="a@x.com">A</span></div>`,
	}
	rec := postJSON(t, s.Handler(), "/v1/verify", map[string]interface{}{
		"email": "a@x.com",
		"page":  page,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res core.VerificationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, core.VerdictTrusted, res.Verdict)
	require.NotNil(t, res.Locator)
	assert.Equal(t, "18c3385e337317e5", res.Locator.ID)
}

func TestVerifyEndpointWithoutAnyIdentifier(t *testing.T) {
	s := newTestServer(t, &stubVerifier{auth: &core.AuthResult{SPF: core.AuthPass}}, &stubProvider{})

	rec := postJSON(t, s.Handler(), "/v1/verify", map[string]string{"email": "a@x.com"})
	require.Equal(t, http.StatusOK, rec.Code)

	var res core.VerificationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	// No message identifier at all: headers were never fetched.
	assert.Equal(t, core.VerdictCaution, res.Verdict)
	assert.Nil(t, res.Auth)
}

func TestAiAvailableEndpoint(t *testing.T) {
	p := &stubProvider{avail: core.Availability{Available: true, HasAPI: true, Status: "readily"}}
	s := newTestServer(t, &stubVerifier{}, p)

	req := httptest.NewRequest(http.MethodGet, "/v1/ai/available", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var avail core.Availability
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &avail))
	assert.True(t, avail.Available)
}

func TestAnalyzeEndpoint(t *testing.T) {
	p := &stubProvider{
		avail:    core.Availability{Available: true, HasAPI: true, Status: "readily"},
		response: `{"verdict":"Reject","summary":"Credential lure","reasons":["link mismatch"]}`,
	}
	s := newTestServer(t, &stubVerifier{}, p)

	rec := postJSON(t, s.Handler(), "/v1/analyze", map[string]interface{}{
		"data": core.EmailAnalysisRequest{
			SenderEmail: "a@x.com",
			Subject:     "Verify your account",
			BodyText:    "Click here now",
			MessageID:   "18c3385e337317e5",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res core.AiResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, core.AiVerdictReject, res.Verdict)
}

func TestAnalyzeEndpointUnavailable(t *testing.T) {
	p := &stubProvider{avail: core.Availability{Status: "no-model"}}
	s := newTestServer(t, &stubVerifier{}, p)

	rec := postJSON(t, s.Handler(), "/v1/analyze", map[string]interface{}{
		"data": core.EmailAnalysisRequest{SenderEmail: "a@x.com"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unavailable":true}`, rec.Body.String())
}

func TestUnknownOperationIs404(t *testing.T) {
	s := newTestServer(t, &stubVerifier{}, &stubProvider{})

	rec := postJSON(t, s.Handler(), "/v1/frobnicate", map[string]string{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
