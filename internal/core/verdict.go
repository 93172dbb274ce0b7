package core

// Classify combines delivery-authentication outcomes with the logo
// provenance into a tiered verdict. It is total over its input space.
//
// A clean SPF+DKIM+DMARC pass is trusted only when a recognizable brand
// identity exists; with an unknown logo source the verdict is capped at
// caution. Hard failures (DMARC or DKIM fail, or SPF fail without a DKIM
// pass to compensate) are dangerous. Everything else, including a missing
// auth result, is caution.
func Classify(auth *AuthResult, logo LogoSource) Verdict {
	if auth == nil {
		return VerdictCaution
	}

	if auth.DMARC == AuthFail || auth.DKIM == AuthFail {
		return VerdictDangerous
	}
	if auth.SPF == AuthFail && auth.DKIM != AuthPass {
		return VerdictDangerous
	}

	if auth.SPF == AuthPass && auth.DKIM == AuthPass && auth.DMARC == AuthPass {
		if logo == LogoSourceUnknown {
			return VerdictCaution
		}
		return VerdictTrusted
	}

	return VerdictCaution
}
