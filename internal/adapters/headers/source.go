package headers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/core"
)

// maxBodyBytes bounds how much of the raw-message view is read. Headers sit
// at the top, so a few hundred KB is plenty.
const maxBodyBytes = 512 << 10

// Source performs the privileged fetch of the provider's raw-message view.
// The collaborator supplies the URL template and any session credentials;
// the engine only knows "identifier in, body out".
type Source interface {
	FetchRaw(ctx context.Context, messageID string) (string, error)
}

// HTTPSource fetches the raw-message view over HTTP using a cookie header
// captured from the authenticated webmail session.
type HTTPSource struct {
	urlTemplate string // printf template with one %s for the message id
	cookie      string
	http        *http.Client
	timeout     time.Duration
	logger      *zap.Logger
}

// NewHTTPSource creates an HTTPSource. The timeout bounds the entire fetch.
func NewHTTPSource(urlTemplate, cookie string, timeout time.Duration, logger *zap.Logger) *HTTPSource {
	return &HTTPSource{
		urlTemplate: urlTemplate,
		cookie:      cookie,
		http:        &http.Client{Timeout: timeout},
		timeout:     timeout,
		logger:      logger,
	}
}

// FetchRaw retrieves the raw-message body for a message identifier.
func (s *HTTPSource) FetchRaw(ctx context.Context, messageID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(s.urlTemplate, messageID), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build raw-message request: %w", err)
	}
	if s.cookie != "" {
		req.Header.Set("Cookie", s.cookie)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("raw-message fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("raw-message fetch returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read raw-message body: %w", err)
	}
	return string(body), nil
}

// Verifier combines a Source with the parser, implementing
// core.HeaderVerifier. The envelope sender is resolved per message by the
// caller embedding it in the id; here it is best-effort extracted from the
// fetched headers themselves.
//
// Parsed results are memoized per message identifier for the life of the
// process. A message's headers never change, so the privileged fetch happens
// at most once per message; fetch failures are not memoized and retry.
type Verifier struct {
	source Source
	logger *zap.Logger

	mu      sync.RWMutex
	results map[string]*core.AuthResult
}

// NewVerifier creates a Verifier over a Source.
func NewVerifier(source Source, logger *zap.Logger) *Verifier {
	return &Verifier{
		source:  source,
		logger:  logger,
		results: make(map[string]*core.AuthResult),
	}
}

// Verify fetches and parses the message's authentication headers. A timeout
// or fetch failure is an error; a message with no auth line is (nil, nil),
// and that outcome is memoized like any other.
func (v *Verifier) Verify(ctx context.Context, messageID string) (*core.AuthResult, error) {
	v.mu.RLock()
	res, ok := v.results[messageID]
	v.mu.RUnlock()
	if ok {
		return res, nil
	}

	body, err := v.source.FetchRaw(ctx, messageID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("header fetch timed out: %w", err)
		}
		return nil, err
	}

	envelope := envelopeFrom(body)
	res = Parse(body, envelope)
	if res == nil {
		v.logger.Debug("No authentication results in message",
			zap.String("message_id", messageID))
	}

	v.mu.Lock()
	v.results[messageID] = res
	v.mu.Unlock()
	return res, nil
}

var fromHeaderRe = regexp.MustCompile(`(?im)^from:\s*(.+)$`)

// envelopeFrom pulls the From address out of the raw headers so the
// X-Original-Sender comparison has something to compare against.
func envelopeFrom(body string) string {
	if m := fromHeaderRe.FindStringSubmatch(Unfold(body)); m != nil {
		return extractAddress(m[1])
	}
	return ""
}
