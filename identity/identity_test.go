// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentcp-foundation/agentcp/lib/netutil"
	"github.com/agentcp-foundation/agentcp/lib/ref"
)

func mustAID(t *testing.T, s string) ref.AID {
	t.Helper()
	aid, err := ref.ParseAID(s)
	if err != nil {
		t.Fatal(err)
	}
	return aid
}

// selfSign issues a throwaway certificate for the key so that tests
// can exercise the full save/load path without a CA.
func selfSign(t *testing.T, aid ref.AID, key *ecdsa.PrivateKey) string {
	t.Helper()
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: aid.String()},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestGenerateKeyIsP384(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if key.Curve != elliptic.P384() {
		t.Errorf("curve = %v, want P-384", key.Curve.Params().Name)
	}
}

func TestBuildCSR(t *testing.T) {
	aid := mustAID(t, "alice.aid.net")
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	csrPEM, err := BuildCSR(aid, key)
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		t.Fatal("CSR is not a CERTIFICATE REQUEST PEM block")
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if err := csr.CheckSignature(); err != nil {
		t.Errorf("CSR signature: %v", err)
	}
	if csr.Subject.CommonName != "alice.aid.net" {
		t.Errorf("CN = %q", csr.Subject.CommonName)
	}
	if got := csr.Subject.Organization; len(got) != 1 || got[0] != subjectOrganization {
		t.Errorf("O = %v", got)
	}
	foundBC := false
	for _, ext := range csr.Extensions {
		if ext.Id.Equal(oidBasicConstraints) {
			foundBC = true
		}
	}
	if !foundBC {
		t.Error("CSR missing BasicConstraints extension")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	storage := t.TempDir()
	aid := mustAID(t, "alice.aid.net")
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	certPEM := selfSign(t, aid, key)

	if err := Save(storage, aid, key, certPEM, "", "hunter2"); err != nil {
		t.Fatal(err)
	}

	// The key file must be an encrypted PKCS#8 PEM, not plaintext.
	keyData, err := os.ReadFile(filepath.Join(CertsDir(storage, aid), "alice.aid.net.key"))
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil || block.Type != "ENCRYPTED PRIVATE KEY" {
		t.Fatalf("key file block type = %v", block)
	}

	loaded, err := Load(storage, aid, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Key.Equal(key) {
		t.Error("loaded key differs from saved key")
	}
	if loaded.CertificatePEM != certPEM {
		t.Error("loaded certificate differs")
	}

	if _, err := Load(storage, aid, "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("wrong password: got %v, want ErrWrongPassword", err)
	}
}

func TestSignNonceVerifies(t *testing.T) {
	aid := mustAID(t, "alice.aid.net")
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	id := &Identity{AID: aid, Key: key, CertificatePEM: selfSign(t, aid, key)}

	sigHex, err := id.SignNonce("server-nonce-123")
	if err != nil {
		t.Fatal(err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		t.Fatalf("signature is not hex: %v", err)
	}
	digest := sha256.Sum256([]byte("server-nonce-123"))
	if !ecdsa.VerifyASN1(&key.PublicKey, digest[:], sig) {
		t.Error("signature does not verify")
	}

	pubPEM, err := id.PublicKeyPEM()
	if err != nil {
		t.Fatal(err)
	}
	pubBlock, _ := pem.Decode([]byte(pubPEM))
	if pubBlock == nil || pubBlock.Type != "PUBLIC KEY" {
		t.Error("PublicKeyPEM did not produce a PUBLIC KEY block")
	}
}

func TestRequestCertificate(t *testing.T) {
	aid := mustAID(t, "alice.aid.net")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/accesspoint/sign_cert" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["id"] != "alice.aid.net" || req["csr"] == "" {
			t.Errorf("request = %v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"certificate": "-----BEGIN CERTIFICATE-----\nfake\n-----END CERTIFICATE-----\n"})
	}))
	defer server.Close()

	client, err := netutil.NewHTTPClient(netutil.Options{})
	if err != nil {
		t.Fatal(err)
	}
	cert, err := RequestCertificate(context.Background(), client, server.URL, aid, "csr-pem")
	if err != nil {
		t.Fatal(err)
	}
	if cert == "" {
		t.Error("empty certificate")
	}
}

func TestBundleRoundTrip(t *testing.T) {
	storage := t.TempDir()
	aid := mustAID(t, "alice.aid.net")
	key, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	certPEM := selfSign(t, aid, key)
	if err := Save(storage, aid, key, certPEM, "csr", "pw"); err != nil {
		t.Fatal(err)
	}

	bundlePath := filepath.Join(t.TempDir(), "alice.bundle")
	if err := ExportBundle(storage, aid, "transfer-phrase", bundlePath); err != nil {
		t.Fatal(err)
	}

	target := t.TempDir()
	imported, err := ImportBundle(target, bundlePath, "transfer-phrase")
	if err != nil {
		t.Fatal(err)
	}
	if imported != aid {
		t.Errorf("imported AID = %s", imported)
	}
	loaded, err := Load(target, aid, "pw")
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Key.Equal(key) {
		t.Error("imported key differs")
	}

	if _, err := ImportBundle(t.TempDir(), bundlePath, "wrong-phrase"); err == nil {
		t.Error("expected error for wrong bundle passphrase")
	}
}
