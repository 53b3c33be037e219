// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
)

// identityCheck verifies the printer certificate during one handshake and
// remembers why it failed; TLS stacks above us tend to flatten the error.
type identityCheck struct {
	serial      string
	fingerprint []byte

	serialMismatch      atomic.Bool
	fingerprintMismatch atomic.Bool
}

func newIdentityCheck(serial, fingerprint string) (*identityCheck, error) {
	id := &identityCheck{serial: strings.TrimSpace(serial)}
	if fingerprint != "" {
		fp, err := ParseFingerprint(fingerprint)
		if err != nil {
			return nil, err
		}
		id.fingerprint = fp
	}
	return id, nil
}

// ParseFingerprint decodes a SHA-256 fingerprint written as hex, with or
// without colon separators.
func ParseFingerprint(s string) ([]byte, error) {
	clean := strings.ToLower(strings.NewReplacer(":", "", " ", "").Replace(s))
	fp, err := hex.DecodeString(clean)
	if err != nil || len(fp) != sha256.Size {
		return nil, fmt.Errorf("invalid sha256 fingerprint %q", s)
	}
	return fp, nil
}

// tlsConfig builds a client config that skips chain validation and checks
// the leaf certificate against the expected identity instead. Printers
// use self-signed certificates whose Common Name is the serial number.
func (id *identityCheck) tlsConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify:    true, //nolint:gosec // identity is verified below
		VerifyPeerCertificate: id.verify,
		ClientSessionCache:    tls.NewLRUClientSessionCache(4),
		MinVersion:            tls.VersionTLS12,
	}
}

func (id *identityCheck) verify(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return fmt.Errorf("printer presented no certificate")
	}

	if id.fingerprint != nil {
		sum := sha256.Sum256(rawCerts[0])
		if !bytes.Equal(sum[:], id.fingerprint) {
			id.fingerprintMismatch.Store(true)
			return ErrFingerprintMismatch
		}
	}

	if id.serial == "" {
		return nil
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return fmt.Errorf("failed to parse printer certificate: %w", err)
	}
	if !strings.EqualFold(cert.Subject.CommonName, id.serial) {
		id.serialMismatch.Store(true)
		return fmt.Errorf("%w: certificate is for %q", ErrSerialMismatch, cert.Subject.CommonName)
	}
	return nil
}

// failure reports the identity error seen during the handshake, if any.
func (id *identityCheck) failure() error {
	switch {
	case id.serialMismatch.Load():
		return ErrSerialMismatch
	case id.fingerprintMismatch.Load():
		return ErrFingerprintMismatch
	}
	return nil
}
