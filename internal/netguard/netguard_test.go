package netguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURLRejectsReservedHosts(t *testing.T) {
	blocked := []string{
		"http://localhost/admin",
		"http://LOCALHOST:8080/",
		"http://127.0.0.1/",
		"http://127.8.9.1/metadata",
		"http://10.0.0.5/internal",
		"http://192.168.1.1/router",
		"http://172.16.0.9/",
		"http://172.31.255.1/",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
		"http://[::ffff:127.0.0.1]/",
	}
	for _, raw := range blocked {
		_, err := ValidateURL(raw)
		assert.Error(t, err, "expected %s to be rejected", raw)
	}
}

func TestValidateURLRejectsBadSchemes(t *testing.T) {
	for _, raw := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"gopher://example.com",
		"://bad",
	} {
		_, err := ValidateURL(raw)
		assert.Error(t, err, "expected %s to be rejected", raw)
	}
}

func TestValidateURLAllowsPublicTargets(t *testing.T) {
	u, err := ValidateURL("https://api.stripe.com/v1/charges?limit=1")
	require.NoError(t, err)
	assert.Equal(t, "api.stripe.com", u.Hostname())

	// Literal public IPs pass without resolution.
	_, err = ValidateURL("http://93.184.216.34/")
	assert.NoError(t, err)
}

func TestCheckURLMatchesValidateURL(t *testing.T) {
	// CheckURL is the func(string) error form the engine and verifier plug
	// into their validator hooks.
	var _ func(string) error = CheckURL

	assert.Error(t, CheckURL("http://169.254.169.254/latest/meta-data"))
	assert.Error(t, CheckURL("ftp://example.com/file"))
	assert.NoError(t, CheckURL("https://api.stripe.com/v1/charges?limit=1"))
}

func TestCheckHostBoundaryAddresses(t *testing.T) {
	// 172.32.0.0 is just outside 172.16.0.0/12.
	assert.NoError(t, CheckHost("172.32.0.1"))
	assert.Error(t, CheckHost("172.16.0.1"))

	// 11.0.0.0 is outside 10.0.0.0/8.
	assert.NoError(t, CheckHost("11.0.0.1"))
}
