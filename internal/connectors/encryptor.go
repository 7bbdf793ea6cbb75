package connectors

import "io"

// Encryptor protects document bodies at rest in blob-backed document stores.
// Encrypting needs only the public key; reading a body back requires
// unlocking the private key with a passphrase.
type Encryptor interface {
	// Setup generates a key pair and stores the private key encrypted with passphrase.
	Setup(passphrase string) error

	// Encrypt writes the ciphertext of r to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock returns a DecryptionContext, or an error for a wrong passphrase.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
