package testutil

import (
	"drift-go/internal/drift"
	"drift-go/internal/encryption"
)

// TestPassphrase unlocks encryptors returned by NewTestEncryptor.
const TestPassphrase = "correct horse battery staple"

// NewTestEncryptor creates a configured test encryptor.
func NewTestEncryptor() drift.Encryptor {
	enc := encryption.NewTestEncryptor()
	_ = enc.Setup(TestPassphrase)
	return enc
}
