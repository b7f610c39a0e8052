package encryption

import (
	"bytes"
	"errors"
	"testing"
)

func TestTestEncryptor_Lifecycle(t *testing.T) {
	e := NewTestEncryptor()
	if e.IsConfigured() {
		t.Error("IsConfigured() = true before Setup")
	}
	if _, err := e.Unlock("x"); err == nil {
		t.Error("Unlock() before Setup should fail")
	}

	if err := e.Setup("secret"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := e.Setup("secret"); !errors.Is(err, ErrKeysExist) {
		t.Errorf("second Setup() error = %v, want ErrKeysExist", err)
	}
	if _, err := e.Unlock("wrong"); err == nil {
		t.Error("Unlock() accepted the wrong passphrase")
	}

	var sealed bytes.Buffer
	if err := e.Encrypt(bytes.NewReader([]byte(`{"a":1}`)), &sealed); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.HasPrefix(sealed.Bytes(), testHeader) {
		t.Errorf("sealed output %q lacks the test header", sealed.Bytes())
	}

	dc, err := e.Unlock("secret")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var plain bytes.Buffer
	if err := dc.Decrypt(&sealed, &plain); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if plain.String() != `{"a":1}` {
		t.Errorf("Decrypt() = %q", plain.String())
	}
}

func TestTestDecryptionContext_RejectsForeignInput(t *testing.T) {
	var out bytes.Buffer
	err := (&TestDecryptionContext{}).Decrypt(bytes.NewReader([]byte("PLAINTEXT-DATA")), &out)
	if err == nil {
		t.Error("Decrypt() accepted input without the test header")
	}
}
