// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/bureau-foundation/warren/lib/secret"
)

// Bundle is a decrypted credential bundle: provider name to its
// credential set. The JSON form lives only inside age ciphertext on
// disk and inside secret.Buffer memory after unsealing.
type Bundle map[string]Credential

// Credential holds the secrets for one LLM provider.
type Credential struct {
	// APIKey is the provider API key, written into the container's
	// secrets mount at provisioning time.
	APIKey string `json:"api_key,omitempty"`

	// BaseURL overrides the provider endpoint (e.g. a local ollama
	// instance). Optional.
	BaseURL string `json:"base_url,omitempty"`

	// Env holds extra environment entries the provider needs beyond
	// the API key. Optional.
	Env map[string]string `json:"env,omitempty"`
}

// Providers returns the provider names present in the bundle, sorted.
func (b Bundle) Providers() []string {
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the credential for the named provider.
func (b Bundle) Lookup(provider string) (Credential, error) {
	credential, ok := b[provider]
	if !ok {
		return Credential{}, fmt.Errorf("no credential for provider %q (bundle has %v)", provider, b.Providers())
	}
	return credential, nil
}

// OpenBundle reads the sealed bundle file and decrypts it with the
// given identity. The decrypted JSON passes through a secret.Buffer
// that is closed before returning; the parsed Bundle holds heap
// copies of the credential strings, scoped to the provisioning call.
func OpenBundle(path string, privateKey *secret.Buffer) (Bundle, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle %s: %w", path, err)
	}

	plaintext, err := Unseal(ciphertext, privateKey)
	if err != nil {
		return nil, fmt.Errorf("unsealing bundle %s: %w", path, err)
	}
	defer plaintext.Close()

	var bundle Bundle
	if err := json.Unmarshal(plaintext.Bytes(), &bundle); err != nil {
		return nil, fmt.Errorf("parsing bundle %s: %w", path, err)
	}
	return bundle, nil
}

// SealBundle encrypts the bundle to the given recipients and returns
// the raw age ciphertext for writing to the bundle file.
func SealBundle(bundle Bundle, recipientKeys []string) ([]byte, error) {
	plaintext, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("encoding bundle: %w", err)
	}
	ciphertext, err := Seal(plaintext, recipientKeys)
	secret.Zero(plaintext)
	if err != nil {
		return nil, err
	}
	return ciphertext, nil
}
