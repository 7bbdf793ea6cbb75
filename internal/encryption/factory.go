package encryption

import (
	"bytes"
	"fmt"
	"strings"

	"connsync/internal/config"
	"connsync/internal/connectors"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// An empty type disables encryption and returns nil.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (connectors.Encryptor, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// Seal encrypts a document body into its stored text form.
func Seal(enc connectors.Encryptor, plaintext string) (string, error) {
	var buf bytes.Buffer
	if err := enc.Encrypt(strings.NewReader(plaintext), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Open reverses Seal.
func Open(dec connectors.DecryptionContext, sealed string) (string, error) {
	var buf bytes.Buffer
	if err := dec.Decrypt(strings.NewReader(sealed), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
