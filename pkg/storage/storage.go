// Package storage provides file-backed adapters for the attendance ports.
//
// Everything lives below one data directory:
//
//	orgs/<org>/people.yaml      roster
//	orgs/<org>/gallery/*.jpg    current camera gallery
//	ledger/<org>.enc            presence history
//	runs/<org>/<run>.enc        recorded runs
//
// Presence history and run records are encrypted at rest using NaCl
// secretbox when encryption is enabled (.json files otherwise).
package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/MrCodeEU/facecheck/pkg/attendance"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// ErrUnknownOrganization is returned for an organization without a directory.
var ErrUnknownOrganization = attendance.ErrUnknownOrganization

// ErrStorageAccess is returned when storage cannot be accessed.
var ErrStorageAccess = errors.New("failed to access storage")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// ErrInvalidOrganization is returned for organization ids that are not a
// single path element.
var ErrInvalidOrganization = errors.New("invalid organization id")

// codec reads and writes JSON documents, optionally sealed with secretbox.
type codec struct {
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

func newCodec(encryptionEnabled bool) (*codec, error) {
	c := &codec{encryptionEnabled: encryptionEnabled}
	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		c.encryptionKey = key
	}
	return c, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facecheck-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])
	return key, nil
}

// ext is the file extension of documents written by this codec.
func (c *codec) ext() string {
	if c.encryptionEnabled {
		return ".enc"
	}
	return ".json"
}

// save marshals v and writes it atomically to path.
func (c *codec) save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	if c.encryptionEnabled {
		data, err = c.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt %s: %w", filepath.Base(path), err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	return nil
}

// load reads path into v. A missing file returns an error matching os.ErrNotExist.
func (c *codec) load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	if c.encryptionEnabled {
		data, err = c.decrypt(data)
		if err != nil {
			return fmt.Errorf("failed to decrypt %s: %w", filepath.Base(path), err)
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (c *codec) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &c.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (c *codec) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &c.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}

// checkOrgID rejects ids that would escape the data directory.
func checkOrgID(orgID string) error {
	if orgID == "" || orgID == "." || orgID == ".." || strings.ContainsAny(orgID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidOrganization, orgID)
	}
	return nil
}

// orgDir returns the directory of an organization, or ErrUnknownOrganization
// when it does not exist.
func orgDir(dataDir, orgID string) (string, error) {
	if err := checkOrgID(orgID); err != nil {
		return "", err
	}
	dir := filepath.Join(dataDir, "orgs", orgID)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrUnknownOrganization, orgID)
		}
		return "", fmt.Errorf("%w: %v", ErrStorageAccess, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrUnknownOrganization, orgID)
	}
	return dir, nil
}

// Organizations lists the organizations that have a directory below dataDir.
func Organizations(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, "orgs"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	orgs := []string{}
	for _, e := range entries {
		if e.IsDir() {
			orgs = append(orgs, e.Name())
		}
	}
	return orgs, nil
}
