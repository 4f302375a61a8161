package bank

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallbackPolicy(t *testing.T) {
	dev := CallbackPolicy{Development: true}
	prod := CallbackPolicy{AllowedHosts: []string{"pay.example.com", "hooks.example.com:8443"}}
	open := CallbackPolicy{}

	cases := []struct {
		name   string
		policy CallbackPolicy
		url    string
		ok     bool
	}{
		{"metadata endpoint", dev, "http://169.254.169.254/steal", false},
		{"metadata endpoint prod", prod, "https://169.254.169.254/latest", false},
		{"ecs metadata", open, "https://169.254.170.2/v2", false},
		{"gcp metadata", open, "https://metadata.google.internal/", false},
		{"private 10/8", dev, "http://10.1.2.3/hook", false},
		{"private 172.16/12", dev, "http://172.20.0.1/hook", false},
		{"private 192.168/16", dev, "http://192.168.1.10/hook", false},
		{"ipv6 loopback", dev, "http://[::1]/hook", false},
		{"ipv6 unique local", open, "https://[fd00::1]/hook", false},
		{"ipv6 link local", open, "https://[fe80::1]/hook", false},
		{"unspecified", open, "https://0.0.0.0/hook", false},
		{"not a url", dev, "::::", false},
		{"no host", dev, "http:///hook", false},
		{"ftp scheme", dev, "ftp://example.com/hook", false},
		{"http outside dev", open, "http://pay.example.com/hook", false},
		{"localhost outside dev", open, "https://localhost/hook", false},
		{"localhost in dev", dev, "http://localhost:3000/api/webhooks/bank", true},
		{"loopback ip in dev", dev, "http://127.0.0.1:8080/v1/webhooks/bank", true},
		{"public https", open, "https://pay.example.com/v1/webhooks/bank", true},
		{"allow-listed", prod, "https://pay.example.com/v1/webhooks/bank", true},
		{"allow-listed with port", prod, "https://hooks.example.com:8443/bank", true},
		{"not allow-listed", prod, "https://evil.example.net/hook", false},
		{"allow-listed host wrong port", prod, "https://hooks.example.com:9999/bank", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.policy.ValidateCallbackURL(tc.url)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
