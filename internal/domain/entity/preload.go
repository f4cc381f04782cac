package entity

import "time"

// PreloadedContext holds warmed-up, short-lived purchase state for one
// configuration. It is read-only while a race runs.
type PreloadedContext struct {
	ConfigurationID string            `json:"configuration_id"`
	PaymentToken    string            `json:"payment_token"`
	ShippingRef     string            `json:"shipping_ref"`
	Sessions        map[string]string `json:"sessions"`
	CartTokens      map[string]string `json:"cart_tokens"`
	BypassArtifacts map[string]string `json:"bypass_artifacts"`
	PreloadedAt     time.Time         `json:"preloaded_at"`
}

// Cold reports whether no warm state is available.
func (p *PreloadedContext) Cold() bool {
	return p == nil || p.PreloadedAt.IsZero()
}

// Session returns the warmed session for source, if any.
func (p *PreloadedContext) Session(source string) string {
	if p == nil {
		return ""
	}
	return p.Sessions[source]
}

// CartToken returns the prepared cart token for source, if any.
func (p *PreloadedContext) CartToken(source string) string {
	if p == nil {
		return ""
	}
	return p.CartTokens[source]
}
