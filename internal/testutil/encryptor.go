package testutil

import (
	"connsync/internal/connectors"
	"connsync/internal/encryption"
)

// NewTestEncryptor returns a reversible encryptor that needs no key files.
func NewTestEncryptor() connectors.Encryptor {
	return encryption.NewTestEncryptor()
}
