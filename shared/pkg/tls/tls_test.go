package tls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSelfSignedCert writes a throwaway certificate and key into dir
func writeSelfSignedCert(t *testing.T, dir string) (certFile, keyFile string) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(privateKey)})
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestLoadClientTLSConfig(t *testing.T) {
	certFile, keyFile := writeSelfSignedCert(t, t.TempDir())

	cfg, err := LoadClientTLSConfig(ClientOptions{CertFile: certFile, KeyFile: keyFile, CAFile: certFile})
	if err != nil {
		t.Fatalf("LoadClientTLSConfig() error = %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("expected one client certificate, got %d", len(cfg.Certificates))
	}
	if cfg.RootCAs == nil {
		t.Errorf("expected RootCAs from the CA file")
	}
	if cfg.InsecureSkipVerify {
		t.Errorf("verification should be on by default")
	}
}

func TestLoadClientTLSConfigErrors(t *testing.T) {
	dir := t.TempDir()
	certFile, _ := writeSelfSignedCert(t, dir)
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a cert"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts ClientOptions
	}{
		{"cert without key", ClientOptions{CertFile: certFile}},
		{"missing CA file", ClientOptions{CAFile: filepath.Join(dir, "missing.pem")}},
		{"unparseable CA", ClientOptions{CAFile: garbage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadClientTLSConfig(tt.opts); err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}

func TestClientOptionsIsZero(t *testing.T) {
	if !(ClientOptions{}).IsZero() {
		t.Errorf("empty options should be zero")
	}
	if (ClientOptions{Insecure: true}).IsZero() {
		t.Errorf("insecure option should not be zero")
	}
}
