package state

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// PassphraseEnvVar enables passphrase encryption of state when set.
const PassphraseEnvVar = "SYSCONVERGE_STATE_PASSPHRASE"

// workFactor overrides the scrypt work factor when non-zero.
var workFactor int

// EncryptState encrypts content to the passphrase from the environment as an
// armored age file. Content is returned unchanged when no passphrase is set.
func EncryptState(content []byte) ([]byte, error) {
	passphrase := os.Getenv(PassphraseEnvVar)
	if passphrase == "" {
		return content, nil
	}

	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}

	var buf bytes.Buffer
	armored := armor.NewWriter(&buf)
	w, err := age.Encrypt(armored, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		return nil, fmt.Errorf("writing state to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return buf.Bytes(), nil
}

// DecryptState decrypts content if it is encrypted and returns it unchanged
// otherwise.
func DecryptState(content []byte) ([]byte, error) {
	if !IsEncrypted(content) {
		return content, nil
	}

	passphrase := os.Getenv(PassphraseEnvVar)
	if passphrase == "" {
		return nil, fmt.Errorf("state file is encrypted but %s is not set", PassphraseEnvVar)
	}

	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	r, err := age.Decrypt(armor.NewReader(bytes.NewReader(content)), identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting (wrong passphrase?): %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted state: %w", err)
	}
	return plaintext, nil
}

// IsEncrypted checks if state content is an armored age file.
func IsEncrypted(content []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(content, " \t\r\n"), []byte(armor.Header))
}
