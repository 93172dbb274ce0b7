package favicon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const placeholder = "GENERIC-PLACEHOLDER-ICON"

func TestIsGenericRetriesFailedReferenceFetch(t *testing.T) {
	// The first reference request fails; the detector must come back once
	// the service recovers instead of staying disabled for the process.
	var refRequests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "reference.invalid") {
			if refRequests.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
		}
		fmt.Fprint(w, placeholder)
	}))
	defer srv.Close()

	p := NewProber(srv.URL+"/icon/%s", "reference.invalid", 2*time.Second, zap.NewNop())
	ctx := context.Background()

	// Reference unavailable: cannot confirm a placeholder.
	assert.False(t, p.IsGeneric(ctx, "obscure-sender.net"))

	// Service recovered: the placeholder is now detected.
	assert.True(t, p.IsGeneric(ctx, "obscure-sender.net"))
	assert.EqualValues(t, 2, refRequests.Load())

	// And the successful reference is memoized.
	assert.True(t, p.IsGeneric(ctx, "another-sender.net"))
	assert.EqualValues(t, 2, refRequests.Load())
}

func TestIsGenericRealIconDiffers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "stripe.com") {
			fmt.Fprint(w, "real-icon-bytes")
			return
		}
		fmt.Fprint(w, placeholder)
	}))
	defer srv.Close()

	p := NewProber(srv.URL+"/icon/%s", "reference.invalid", 2*time.Second, zap.NewNop())
	assert.False(t, p.IsGeneric(context.Background(), "stripe.com"))
}
