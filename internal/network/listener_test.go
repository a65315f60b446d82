package network

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenAcceptsConnections(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Write([]byte("ok"))
			c.Close()
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 2)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf))
}

func TestListenRebindsImmediately(t *testing.T) {
	ln, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ln, err = Listen(context.Background(), addr)
	require.NoError(t, err)
	ln.Close()
}

func TestListenBadAddress(t *testing.T) {
	_, err := Listen(context.Background(), "127.0.0.1:notaport")
	assert.Error(t, err)
}

func TestServerTLSConfig(t *testing.T) {
	cfg := ServerTLSConfig()
	assert.NotEmpty(t, cfg.CipherSuites)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}

// writeSelfSigned writes a throwaway loopback certificate and key.
func writeSelfSigned(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0600))
	return certFile, keyFile
}

func TestWrapTLSHandshakes(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t)

	raw, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	ln, cfg, err := WrapTLS(raw, certFile, keyFile)
	require.NoError(t, err)
	defer ln.Close()
	require.Len(t, cfg.Certificates, 1)

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Write([]byte("ok"))
			c.Close()
		}
	}()

	conn, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 2)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(buf))
}

func TestWrapTLSMissingKeyPairClosesListener(t *testing.T) {
	raw, err := Listen(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	_, _, err = WrapTLS(raw, "/nonexistent/cert.pem", "/nonexistent/key.pem")
	require.Error(t, err)

	_, err = raw.Accept()
	assert.Error(t, err)
}
