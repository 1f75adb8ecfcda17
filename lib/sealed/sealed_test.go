// Copyright 2026 The Warren Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/warren/lib/secret"
)

func TestGenerateKeypair(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if !strings.HasPrefix(keypair.PrivateKey.String(), "AGE-SECRET-KEY-1") {
		t.Error("PrivateKey missing AGE-SECRET-KEY-1 prefix")
	}
	if !strings.HasPrefix(keypair.PublicKey, "age1") {
		t.Errorf("PublicKey = %q, want prefix age1", keypair.PublicKey)
	}
}

func TestGenerateKeypair_Unique(t *testing.T) {
	keypair1, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair1.Close()
	keypair2, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair2.Close()

	if keypair1.PrivateKey.String() == keypair2.PrivateKey.String() {
		t.Error("two generated keypairs have identical private keys")
	}
	if keypair1.PublicKey == keypair2.PublicKey {
		t.Error("two generated keypairs have identical public keys")
	}
}

func TestSealUnseal_SingleRecipient(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	plaintext := []byte("hello, warren credentials")
	ciphertext, err := Seal(append([]byte(nil), plaintext...), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	// age binary format starts with a version line.
	if !strings.HasPrefix(string(ciphertext), "age-encryption.org/") {
		t.Error("ciphertext missing age format header")
	}

	decrypted, err := Unseal(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Unseal() error: %v", err)
	}
	defer decrypted.Close()
	if decrypted.String() != string(plaintext) {
		t.Errorf("Unseal() = %q, want %q", decrypted.String(), plaintext)
	}
}

func TestSealUnseal_MultipleRecipients(t *testing.T) {
	// Daemon key plus operator escrow.
	daemon, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer daemon.Close()
	operator, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer operator.Close()

	plaintext := `{"claude":{"api_key":"sk-ant-test"}}`
	ciphertext, err := Seal([]byte(plaintext), []string{daemon.PublicKey, operator.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	// Both recipients should be able to decrypt independently.
	for name, key := range map[string]*secret.Buffer{
		"daemon":   daemon.PrivateKey,
		"operator": operator.PrivateKey,
	} {
		decrypted, err := Unseal(ciphertext, key)
		if err != nil {
			t.Fatalf("Unseal(%s) error: %v", name, err)
		}
		if decrypted.String() != plaintext {
			t.Errorf("Unseal(%s) = %q, want %q", name, decrypted.String(), plaintext)
		}
		decrypted.Close()
	}
}

func TestUnseal_WrongKey(t *testing.T) {
	recipient, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer recipient.Close()
	intruder, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer intruder.Close()

	ciphertext, err := Seal([]byte("sealed to recipient only"), []string{recipient.PublicKey})
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}

	if _, err := Unseal(ciphertext, intruder.PrivateKey); err == nil {
		t.Error("Unseal() with wrong key should fail")
	}
}

func TestSeal_NoRecipients(t *testing.T) {
	if _, err := Seal([]byte("data"), nil); err == nil {
		t.Error("Seal() with no recipients should fail")
	}
}

func TestSeal_InvalidRecipient(t *testing.T) {
	if _, err := Seal([]byte("data"), []string{"not-an-age-key"}); err == nil {
		t.Error("Seal() with invalid recipient should fail")
	}
}

func TestUnseal_CorruptCiphertext(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if _, err := Unseal([]byte("not age ciphertext"), keypair.PrivateKey); err == nil {
		t.Error("Unseal() with corrupt ciphertext should fail")
	}
}

func TestParsePublicKey(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if err := ParsePublicKey(keypair.PublicKey); err != nil {
		t.Errorf("ParsePublicKey(valid) error: %v", err)
	}
	if err := ParsePublicKey("age1invalid"); err == nil {
		t.Error("ParsePublicKey(invalid) should fail")
	}
}

func TestBundleRoundtrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	bundle := Bundle{
		"claude": {APIKey: "sk-ant-test-key"},
		"ollama": {BaseURL: "http://localhost:11434", Env: map[string]string{"OLLAMA_MODEL": "llama3"}},
	}

	ciphertext, err := SealBundle(bundle, []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("SealBundle() error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "credentials.age")
	if err := os.WriteFile(path, ciphertext, 0600); err != nil {
		t.Fatalf("writing bundle file: %v", err)
	}

	opened, err := OpenBundle(path, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("OpenBundle() error: %v", err)
	}

	claude, err := opened.Lookup("claude")
	if err != nil {
		t.Fatalf("Lookup(claude) error: %v", err)
	}
	if claude.APIKey != "sk-ant-test-key" {
		t.Errorf("claude APIKey = %q, want %q", claude.APIKey, "sk-ant-test-key")
	}

	ollama, err := opened.Lookup("ollama")
	if err != nil {
		t.Fatalf("Lookup(ollama) error: %v", err)
	}
	if ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("ollama BaseURL = %q", ollama.BaseURL)
	}
	if ollama.Env["OLLAMA_MODEL"] != "llama3" {
		t.Errorf("ollama Env = %v", ollama.Env)
	}
}

func TestBundleLookupMissingProvider(t *testing.T) {
	bundle := Bundle{"claude": {APIKey: "k"}}
	if _, err := bundle.Lookup("ollama"); err == nil {
		t.Error("Lookup(missing) should fail")
	}
	if !strings.Contains(bundle.Providers()[0], "claude") {
		t.Errorf("Providers() = %v", bundle.Providers())
	}
}

func TestOpenBundle_MissingFile(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair() error: %v", err)
	}
	defer keypair.Close()

	if _, err := OpenBundle("/nonexistent/credentials.age", keypair.PrivateKey); err == nil {
		t.Error("OpenBundle(missing) should fail")
	}
}
