package ssl

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSigned(t *testing.T) {
	cert, err := SelfSigned([]string{"localhost", "127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	leaf := cert.Leaf
	require.NotNil(t, leaf)
	assert.Equal(t, []string{"localhost"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", leaf.IPAddresses[0].String())
	assert.WithinDuration(t, time.Now().Add(time.Hour), leaf.NotAfter, time.Minute)
	assert.NoError(t, leaf.VerifyHostname("localhost"))

	_, err = SelfSigned(nil, time.Hour)
	assert.Error(t, err)
}

func TestSelfSignedServes(t *testing.T) {
	cert, err := SelfSigned([]string{"127.0.0.1"}, time.Hour)
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	srv.StartTLS()
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(cert.Leaf)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoadOrGenerate(t *testing.T) {
	// Nothing configured
	cert, err := LoadOrGenerate("", "", []string{"localhost"})
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost"}, cert.Leaf.DNSNames)

	// Configured but missing
	_, err = LoadOrGenerate(filepath.Join(t.TempDir(), "cert.pem"), "", []string{"localhost"})
	assert.Error(t, err)

	// Configured and present
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem")
	generated, err := SelfSigned([]string{"example.test"}, time.Hour)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(generated.PrivateKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: generated.Certificate[0]}), 0600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0600))

	loaded, err := LoadOrGenerate(certFile, keyFile, nil)
	require.NoError(t, err)
	assert.Equal(t, generated.Certificate[0], loaded.Certificate[0])
}
