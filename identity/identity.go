// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity manages an agent's cryptographic identity: an
// ECDSA P-384 private key, the certificate signing request sent to the
// CA, and the signed certificate. Key material lives on disk under
//
//	<storage>/<aid>/private/certs/<aid>.{key,crt,csr}
//
// with the private key stored as password-encrypted PKCS#8
// (AES-256-CBC, PBKDF2-derived key).
package identity

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/youmark/pkcs8"

	"github.com/agentcp-foundation/agentcp/lib/netutil"
	"github.com/agentcp-foundation/agentcp/lib/ref"
)

// CSR subject constants. The CA keys solely on the CommonName; the
// rest of the subject is fixed filler it ignores.
const (
	subjectCountry      = "CN"
	subjectProvince     = "SomeState"
	subjectLocality     = "SomeCity"
	subjectOrganization = "SomeOrganization"
)

// oidBasicConstraints is the X.509 BasicConstraints extension.
var oidBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}

// Identity is a loaded agent identity: the decrypted private key and
// the certificate chain PEM.
type Identity struct {
	AID            ref.AID
	Key            *ecdsa.PrivateKey
	CertificatePEM string
}

// CertsDir returns the certificate directory for an AID under the
// given storage root.
func CertsDir(storagePath string, aid ref.AID) string {
	return filepath.Join(storagePath, aid.String(), "private", "certs")
}

// GenerateKey creates a new ECDSA P-384 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating P-384 key: %w", err)
	}
	return key, nil
}

// BuildCSR produces a PEM-encoded, SHA-256-signed certificate request
// for the AID with a critical BasicConstraints CA:FALSE extension.
func BuildCSR(aid ref.AID, key *ecdsa.PrivateKey) (string, error) {
	// BasicConstraints with cA absent (defaults false) is the empty
	// SEQUENCE.
	basicConstraints, err := asn1.Marshal(struct{}{})
	if err != nil {
		return "", fmt.Errorf("identity: encoding basic constraints: %w", err)
	}
	template := x509.CertificateRequest{
		Subject: pkix.Name{
			Country:      []string{subjectCountry},
			Province:     []string{subjectProvince},
			Locality:     []string{subjectLocality},
			Organization: []string{subjectOrganization},
			CommonName:   aid.String(),
		},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
		ExtraExtensions: []pkix.Extension{{
			Id:       oidBasicConstraints,
			Critical: true,
			Value:    basicConstraints,
		}},
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &template, key)
	if err != nil {
		return "", fmt.Errorf("identity: creating CSR: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), nil
}

// signCertResponse is the CA's answer to a sign_cert call.
type signCertResponse struct {
	Certificate string `json:"certificate"`
}

// RequestCertificate submits the CSR to the CA and returns the signed
// certificate PEM.
func RequestCertificate(ctx context.Context, client *http.Client, caBase string, aid ref.AID, csrPEM string) (string, error) {
	url := caBase + "/api/accesspoint/sign_cert"
	body, err := netutil.PostJSON(ctx, client, url, map[string]string{
		"id":  aid.String(),
		"csr": csrPEM,
	})
	if err != nil {
		return "", fmt.Errorf("identity: CA sign_cert: %w", err)
	}
	var response signCertResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("identity: parsing CA response: %w", err)
	}
	if response.Certificate == "" {
		return "", fmt.Errorf("identity: CA response has no certificate")
	}
	return response.Certificate, nil
}

// Save writes the identity to disk: encrypted PKCS#8 key, certificate
// PEM, and CSR PEM (the CSR is best-effort diagnostic material).
func Save(storagePath string, aid ref.AID, key *ecdsa.PrivateKey, certPEM, csrPEM, password string) error {
	dir := CertsDir(storagePath, aid)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("identity: creating %s: %w", dir, err)
	}

	keyDER, err := pkcs8.MarshalPrivateKey(key, []byte(password), &pkcs8.Opts{
		Cipher: pkcs8.AES256CBC,
		KDFOpts: pkcs8.PBKDF2Opts{
			SaltSize:       16,
			IterationCount: 10000,
			HMACHash:       crypto.SHA256,
		},
	})
	if err != nil {
		return fmt.Errorf("identity: encrypting private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: keyDER})

	base := filepath.Join(dir, aid.String())
	if err := os.WriteFile(base+".key", keyPEM, 0o600); err != nil {
		return fmt.Errorf("identity: writing key file: %w", err)
	}
	if err := os.WriteFile(base+".crt", []byte(certPEM), 0o600); err != nil {
		return fmt.Errorf("identity: writing certificate: %w", err)
	}
	if csrPEM != "" {
		// CSR write failures are non-fatal: the CSR is kept only for
		// operator inspection.
		_ = os.WriteFile(base+".csr", []byte(csrPEM), 0o600)
	}
	return nil
}

// ErrWrongPassword is returned by Load when the private key cannot be
// decrypted with the supplied password.
var ErrWrongPassword = fmt.Errorf("identity: wrong password")

// Load reads an identity back from disk, decrypting the private key
// with password. A decryption failure is reported as ErrWrongPassword.
func Load(storagePath string, aid ref.AID, password string) (*Identity, error) {
	base := filepath.Join(CertsDir(storagePath, aid), aid.String())

	keyPEM, err := os.ReadFile(base + ".key")
	if err != nil {
		return nil, fmt.Errorf("identity: reading key file: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("identity: key file is not PEM")
	}
	parsed, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrongPassword, err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity: key file holds %T, want ECDSA", parsed)
	}

	certPEM, err := os.ReadFile(base + ".crt")
	if err != nil {
		return nil, fmt.Errorf("identity: reading certificate: %w", err)
	}
	return &Identity{AID: aid, Key: key, CertificatePEM: string(certPEM)}, nil
}

// Delete removes an AID's storage directory entirely.
func Delete(storagePath string, aid ref.AID) error {
	dir := filepath.Join(storagePath, aid.String())
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("identity: removing %s: %w", dir, err)
	}
	return nil
}

// SignNonce signs the server's sign-in nonce with ECDSA-SHA-256 and
// returns the hex-encoded ASN.1 signature.
func (id *Identity) SignNonce(nonce string) (string, error) {
	digest := sha256.Sum256([]byte(nonce))
	signature, err := ecdsa.SignASN1(rand.Reader, id.Key, digest[:])
	if err != nil {
		return "", fmt.Errorf("identity: signing nonce: %w", err)
	}
	return hex.EncodeToString(signature), nil
}

// PublicKeyPEM extracts the PEM-encoded public key from the
// certificate.
func (id *Identity) PublicKeyPEM() (string, error) {
	block, _ := pem.Decode([]byte(id.CertificatePEM))
	if block == nil {
		return "", fmt.Errorf("identity: certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("identity: parsing certificate: %w", err)
	}
	der, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
	if err != nil {
		return "", fmt.Errorf("identity: encoding public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
