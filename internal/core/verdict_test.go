package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFullPass(t *testing.T) {
	auth := &AuthResult{SPF: AuthPass, DKIM: AuthPass, DMARC: AuthPass}

	assert.Equal(t, VerdictTrusted, Classify(auth, LogoSourceBIMI))
	assert.Equal(t, VerdictTrusted, Classify(auth, LogoSourceFavicon))
	// No recognizable brand identity caps a clean auth result.
	assert.Equal(t, VerdictCaution, Classify(auth, LogoSourceUnknown))
}

func TestClassifyHardFailures(t *testing.T) {
	tests := []struct {
		name string
		auth AuthResult
	}{
		{"dkim fail", AuthResult{SPF: AuthPass, DKIM: AuthFail, DMARC: AuthPass}},
		{"dmarc fail", AuthResult{SPF: AuthPass, DKIM: AuthPass, DMARC: AuthFail}},
		{"spf fail without dkim pass", AuthResult{SPF: AuthFail, DKIM: AuthNone}},
		{"spf fail alone", AuthResult{SPF: AuthFail}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, VerdictDangerous, Classify(&tt.auth, LogoSourceBIMI))
			assert.Equal(t, VerdictDangerous, Classify(&tt.auth, LogoSourceUnknown))
		})
	}
}

func TestClassifySPFFailCompensatedByDKIM(t *testing.T) {
	// Forwarded mail commonly breaks SPF while DKIM survives. Not dangerous,
	// but not a full pass either.
	auth := &AuthResult{SPF: AuthFail, DKIM: AuthPass, DMARC: AuthPass}
	assert.Equal(t, VerdictCaution, Classify(auth, LogoSourceBIMI))
}

func TestClassifyPartialSignals(t *testing.T) {
	tests := []struct {
		name string
		auth AuthResult
	}{
		{"softfail only", AuthResult{SPF: AuthSoftfail}},
		{"neutral", AuthResult{SPF: AuthNeutral, DKIM: AuthNeutral}},
		{"temperror", AuthResult{SPF: AuthTempError, DKIM: AuthPass, DMARC: AuthPass}},
		{"none across the board", AuthResult{SPF: AuthNone, DKIM: AuthNone, DMARC: AuthNone}},
		{"bestguesspass dmarc", AuthResult{SPF: AuthPass, DKIM: AuthPass, DMARC: AuthBestGuessPass}},
		{"empty result", AuthResult{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, VerdictCaution, Classify(&tt.auth, LogoSourceBIMI))
		})
	}
}

func TestClassifyNilAuth(t *testing.T) {
	assert.Equal(t, VerdictCaution, Classify(nil, LogoSourceBIMI))
	assert.Equal(t, VerdictCaution, Classify(nil, LogoSourceUnknown))
}
