package logx_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"autobuy/pkg/logx"
)

func TestSensitiveDataMaskerMask(t *testing.T) {
	rq := require.New(t)

	masker := logx.NewSensitiveDataMasker()

	testCases := []struct {
		name   string
		input  []byte
		output []byte
	}{
		{
			name:   "Password",
			input:  []byte(`{"hello":"world","password":"abc123"}`),
			output: []byte(`{"hello":"world","password":"[MASKED]"}`),
		},
		{
			name:   "Password capital letter",
			input:  []byte(`{"hello":"world","Password":"abc123"}`),
			output: []byte(`{"hello":"world","Password":"[MASKED]"}`),
		},
		{
			name:   "Payment reference",
			input:  []byte(`{"listing_id":"l-1","payment_ref":"pm_card_4242","quantity":2}`),
			output: []byte(`{"listing_id":"l-1","payment_ref":"[MASKED]","quantity":2}`),
		},
		{
			name:   "Session and cart tokens",
			input:  []byte(`{"session_token":"sess-abc","cart_token":"cart-xyz"}`),
			output: []byte(`{"session_token":"[MASKED]","cart_token":"[MASKED]"}`),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(*testing.T) {
			output := masker.Mask(tc.input)

			rq.Equal(tc.output, output, "%s vs %s", tc.output, output)
		})
	}
}
