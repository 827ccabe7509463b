package container

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	encryptionNonceSize = 12
	encryptionSaltSize  = 32
	encryptionKeySize   = 32
	pbkdf2Iterations    = 100000
)

// Encryptor seals and opens chunk payloads with AES-256-GCM. The key is
// derived from a passphrase via PBKDF2; the salt is persisted in the
// container's meta table so the same key can be derived on reopen.
type Encryptor struct {
	gcm cipher.AEAD
}

func newEncryptor(passphrase string, salt []byte) (*Encryptor, error) {
	if len(salt) != encryptionSaltSize {
		return nil, errors.New("invalid encryption salt size")
	}
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, encryptionKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryptor{gcm: gcm}, nil
}

func (f *File) setupEncryption(passphrase string, create bool) (*Encryptor, error) {
	var salt []byte
	err := f.db.QueryRow(`SELECT value FROM meta WHERE name = 'encryption_salt'`).Scan(&salt)
	switch {
	case err == sql.ErrNoRows:
		if !create {
			return nil, &Error{Op: "setup encryption", Err: errors.New("container was created without encryption")}
		}
		salt = make([]byte, encryptionSaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, &Error{Op: "setup encryption", Err: err}
		}
		if _, err := f.db.Exec(`INSERT INTO meta (name, value) VALUES ('encryption_salt', ?)`, salt); err != nil {
			return nil, &Error{Op: "setup encryption", Err: err}
		}
	case err != nil:
		return nil, &Error{Op: "setup encryption", Err: err}
	}

	enc, err := newEncryptor(passphrase, salt)
	if err != nil {
		return nil, &Error{Op: "setup encryption", Err: err}
	}
	return enc, nil
}

// Seal encrypts a payload. The nonce is prepended to the ciphertext.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, encryptionNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return e.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a payload produced by Seal.
func (e *Encryptor) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < encryptionNonceSize {
		return nil, errors.New("sealed payload too short")
	}
	nonce, ciphertext := sealed[:encryptionNonceSize], sealed[encryptionNonceSize:]
	return e.gcm.Open(nil, nonce, ciphertext, nil)
}
