// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption and decryption for Warren
// credential bundles. It wraps filippo.io/age for the specific
// operations Warren needs: generate keypairs, encrypt a bundle to one
// or more recipients, decrypt a bundle with the daemon's identity.
//
// Ciphertext is the raw binary age format, stored as a file at the
// configured bundle path. Private keys and decrypted plaintext are
// returned as *secret.Buffer values, which are backed by mmap memory
// outside the Go heap (locked against swap, excluded from core dumps,
// zeroed on close).
//
// This package is used by:
//   - The daemon (decrypt the credential bundle during provisioning)
//   - The warren CLI (generate identities, seal bundles)
package sealed

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/bureau-foundation/warren/lib/secret"
)

// Keypair holds an age x25519 keypair. The private key is stored in a
// secret.Buffer (mmap-backed, locked against swap, excluded from core
// dumps). The public key is a plain string (safe to publish).
//
// The caller must call Close when the keypair is no longer needed.
type Keypair struct {
	// PrivateKey is the secret key in AGE-SECRET-KEY-1... format,
	// stored in mmap memory outside the Go heap. Must never be
	// logged or included in CLI arguments.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding public key in age1... format.
	// Safe to publish.
	PublicKey string
}

// Close releases the private key memory (zeros, unlocks, unmaps).
// Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair. The private key
// is returned in a secret.Buffer and should be written to the identity
// file (mode 0400) immediately.
//
// The caller must call Close on the returned Keypair when done.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// Move the private key into mmap-backed memory immediately. The
	// intermediate string is on the heap and will be GC'd; the mmap
	// buffer is the durable copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Seal encrypts plaintext to one or more recipients specified by their
// age public key strings (age1... format). Returns the raw binary age
// ciphertext, suitable for writing to the bundle file.
//
// At least one recipient is required. Bundles are typically sealed to
// the daemon's key plus an operator escrow key.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}

	return ciphertext.Bytes(), nil
}

// Unseal decrypts raw age ciphertext using the given private key.
// Returns the plaintext in a secret.Buffer (mmap-backed, zeroed on
// close).
//
// The private key is borrowed and is NOT closed by this function. The
// caller must call Close on the returned buffer when the plaintext is
// no longer needed.
func Unseal(ciphertext []byte, privateKey *secret.Buffer) (*secret.Buffer, error) {
	// age.ParseX25519Identity requires a string. The heap copy is
	// brief and request-scoped.
	identity, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}

	if len(plaintext) == 0 {
		// age can produce empty plaintext (sealed empty file).
		return secret.New(1)
	}

	// NewFromBytes zeros the heap copy.
	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

// ParsePublicKey validates an age public key string. Returns an error
// if the key is not a valid age x25519 public key.
func ParsePublicKey(publicKey string) error {
	_, err := age.ParseX25519Recipient(publicKey)
	if err != nil {
		return fmt.Errorf("invalid age public key: %w", err)
	}
	return nil
}

// ParsePrivateKey validates an age private key stored in a
// secret.Buffer. Returns an error if the key is not a valid age x25519
// private key.
func ParsePrivateKey(privateKey *secret.Buffer) error {
	_, err := age.ParseX25519Identity(privateKey.String())
	if err != nil {
		return fmt.Errorf("invalid age private key: %w", err)
	}
	return nil
}
