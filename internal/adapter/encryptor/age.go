package encryptor

import (
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"github.com/semmidev/pgstash/internal/domain"
)

// Bounds of the scrypt work factor accepted by age.
const (
	minWorkFactor = 1
	maxWorkFactor = 30
)

// AgeEncryptor encrypts artifacts with an age scrypt recipient. The key is
// derived from the passphrase with a random salt stored in the age header.
type AgeEncryptor struct {
	passphrase string
	workFactor int
}

func NewAge(passphrase string, workFactor int) (*AgeEncryptor, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: encryption passphrase is empty", domain.ErrConfiguration)
	}
	if workFactor < minWorkFactor || workFactor > maxWorkFactor {
		return nil, fmt.Errorf("%w: work factor %d out of range %d-%d",
			domain.ErrConfiguration, workFactor, minWorkFactor, maxWorkFactor)
	}
	return &AgeEncryptor{passphrase: passphrase, workFactor: workFactor}, nil
}

// Encrypt writes path+".enc" and removes path only after the ciphertext is
// synced and in place. On failure the plaintext is left untouched.
func (e *AgeEncryptor) Encrypt(path string) (string, error) {
	recipient, err := age.NewScryptRecipient(e.passphrase)
	if err != nil {
		return "", fmt.Errorf("failed to create scrypt recipient: %w", err)
	}
	recipient.SetWorkFactor(e.workFactor)

	finalPath := path + domain.EncryptedExt
	partialPath := domain.PartialPath(finalPath)

	if err := encryptFile(path, partialPath, recipient); err != nil {
		os.Remove(partialPath)
		return "", err
	}

	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return "", fmt.Errorf("failed to publish encrypted file: %w", err)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return finalPath, fmt.Errorf("failed to remove plaintext archive: %w", err)
	}

	return finalPath, nil
}

func encryptFile(sourcePath, destPath string, recipient age.Recipient) error {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer destFile.Close()

	w, err := age.Encrypt(destFile, recipient)
	if err != nil {
		return fmt.Errorf("failed to start encryption: %w", err)
	}
	if _, err := io.Copy(w, sourceFile); err != nil {
		return fmt.Errorf("failed to encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize encryption: %w", err)
	}
	if err := destFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync encrypted file: %w", err)
	}
	return destFile.Close()
}
