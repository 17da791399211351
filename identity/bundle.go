// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/agentcp-foundation/agentcp/lib/ref"
)

// Bundle files are a tar of the certs directory sealed with an age
// scrypt passphrase recipient. They exist to move an identity between
// machines without ever writing the (already password-encrypted) key
// material in a loose file layout.

// bundleEntries are the files included in an export, in order.
var bundleEntries = []string{".key", ".crt", ".csr"}

// ExportBundle seals the AID's certificate directory into a
// passphrase-protected bundle at outPath.
func ExportBundle(storagePath string, aid ref.AID, passphrase, outPath string) error {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("identity: bundle recipient: %w", err)
	}

	var archive bytes.Buffer
	tw := tar.NewWriter(&archive)
	base := filepath.Join(CertsDir(storagePath, aid), aid.String())
	for _, suffix := range bundleEntries {
		data, readErr := os.ReadFile(base + suffix)
		if readErr != nil {
			if suffix == ".csr" && os.IsNotExist(readErr) {
				continue // the CSR is optional
			}
			return fmt.Errorf("identity: reading %s%s: %w", aid, suffix, readErr)
		}
		header := &tar.Header{Name: aid.String() + suffix, Mode: 0o600, Size: int64(len(data))}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("identity: bundle header: %w", err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("identity: bundle write: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("identity: closing bundle archive: %w", err)
	}

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("identity: creating bundle file: %w", err)
	}
	defer out.Close()

	sealed, err := age.Encrypt(out, recipient)
	if err != nil {
		return fmt.Errorf("identity: sealing bundle: %w", err)
	}
	if _, err := io.Copy(sealed, &archive); err != nil {
		return fmt.Errorf("identity: writing bundle: %w", err)
	}
	if err := sealed.Close(); err != nil {
		return fmt.Errorf("identity: finalizing bundle: %w", err)
	}
	return nil
}

// ImportBundle unseals a bundle into the storage tree and returns the
// imported AID. The bundle's own file names carry the AID.
func ImportBundle(storagePath, bundlePath, passphrase string) (ref.AID, error) {
	in, err := os.Open(bundlePath)
	if err != nil {
		return ref.AID{}, fmt.Errorf("identity: opening bundle: %w", err)
	}
	defer in.Close()

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return ref.AID{}, fmt.Errorf("identity: bundle identity: %w", err)
	}
	unsealed, err := age.Decrypt(in, scrypt)
	if err != nil {
		return ref.AID{}, fmt.Errorf("identity: unsealing bundle (wrong passphrase?): %w", err)
	}

	var aid ref.AID
	tr := tar.NewReader(unsealed)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ref.AID{}, fmt.Errorf("identity: reading bundle archive: %w", err)
		}
		name := filepath.Base(header.Name)
		ext := filepath.Ext(name)
		parsed, err := ref.ParseAID(name[:len(name)-len(ext)])
		if err != nil {
			return ref.AID{}, fmt.Errorf("identity: bundle entry %q: %w", header.Name, err)
		}
		if aid.IsZero() {
			aid = parsed
		} else if parsed != aid {
			return ref.AID{}, fmt.Errorf("identity: bundle mixes AIDs %s and %s", aid, parsed)
		}

		dir := CertsDir(storagePath, aid)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return ref.AID{}, fmt.Errorf("identity: creating %s: %w", dir, err)
		}
		data, err := io.ReadAll(io.LimitReader(tr, 1<<20))
		if err != nil {
			return ref.AID{}, fmt.Errorf("identity: reading bundle entry: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return ref.AID{}, fmt.Errorf("identity: writing %s: %w", name, err)
		}
	}
	if aid.IsZero() {
		return ref.AID{}, fmt.Errorf("identity: bundle is empty")
	}
	return aid, nil
}
