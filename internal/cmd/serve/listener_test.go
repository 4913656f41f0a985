package serve

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/chirino/keyvalue-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSinglePort_PlainAndTLS(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(w, "tls=%t", r.TLS != nil)
	})
	rs, err := StartSinglePort(context.Background(), config.ListenerConfig{
		EnablePlainText: true,
		EnableTLS:       true,
	}, handler)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close(context.Background()) })
	require.NotZero(t, rs.Port)

	get := func(client *http.Client, url string) string {
		resp, err := client.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	assert.Equal(t, "tls=false", get(http.DefaultClient, fmt.Sprintf("http://127.0.0.1:%d/", rs.Port)))

	insecure := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test certificate
	}}
	assert.Equal(t, "tls=true", get(insecure, fmt.Sprintf("https://127.0.0.1:%d/", rs.Port)))

	require.NoError(t, rs.Close(context.Background()))
	require.NoError(t, rs.Close(context.Background()))
}

func TestStartSinglePort_RequiresAMode(t *testing.T) {
	_, err := StartSinglePort(context.Background(), config.ListenerConfig{}, http.NotFoundHandler())
	require.Error(t, err)
}

func TestSelfSignedCertificate(t *testing.T) {
	cert, err := loadServerCertificate("", "")
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "localhost", cert.Leaf.Subject.CommonName)
	assert.Contains(t, cert.Leaf.DNSNames, "localhost")
}
