package core

import "testing"

func TestSecretboxCryptoRoundTrip(t *testing.T) {
	c := NewSecretboxCrypto()
	key := c.CreateKey([]byte("shared-secret"))

	plaintext := []byte("the quick brown fox")
	ciphertext, err := c.Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if string(ciphertext) == string(plaintext) {
		t.Fatal("ciphertext should not equal plaintext")
	}

	got, err := c.Decrypt(key, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestSecretboxCryptoWrongKeyFails(t *testing.T) {
	c := NewSecretboxCrypto()
	key := c.CreateKey([]byte("secret-a"))
	wrongKey := c.CreateKey([]byte("secret-b"))

	ciphertext, err := c.Encrypt(key, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := c.Decrypt(wrongKey, ciphertext); err == nil {
		t.Fatal("expected decryption to fail with the wrong key")
	}
}

func TestSecretboxCryptoNewSessionKeyIsRandomAndUsable(t *testing.T) {
	c := NewSecretboxCrypto()
	keyA, ivA, err := c.NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	keyB, ivB, err := c.NewSessionKey()
	if err != nil {
		t.Fatalf("NewSessionKey: %v", err)
	}
	if keyA == keyB {
		t.Fatal("two calls to NewSessionKey produced the same key")
	}
	if ivA == ivB {
		t.Fatal("two calls to NewSessionKey produced the same iv")
	}

	ciphertext, err := c.Encrypt(keyA, []byte("payload"))
	if err != nil {
		t.Fatalf("Encrypt with negotiated key: %v", err)
	}
	got, err := c.Decrypt(keyA, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt with negotiated key: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("Decrypt() = %q, want %q", got, "payload")
	}
}
