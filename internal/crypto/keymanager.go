// Package crypto holds the vault custody sealer, signed-request envelopes
// and the encrypted operator key file.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	defaultIterations = 480_000
	minIterations     = 100_000
	saltLen           = 16
	aesKeyLen         = 32
	keyFileVersion    = 1
)

// keyFile is the on-disk format of an encrypted operator key. The iteration
// count is stored so it can be raised without breaking older files.
type keyFile struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	Iterations int    `json:"iterations"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig says where the keeper's operator key comes from.
type KeyConfig struct {
	// RawPrivateKey is hex, with or without 0x. It wins over KeyFile.
	RawPrivateKey string
	KeyFile       string
	KeyPassword   string
}

func keyCipher(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// EncryptKey seals a hex private key under password with PBKDF2-SHA256 and
// AES-256-GCM. The address is bound as associated data.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	signer, err := NewSigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	keyBytes, _ := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := keyCipher(password, salt, defaultIterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := keyFile{
		Version:    keyFileVersion,
		Address:    signer.Address(),
		Iterations: defaultIterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, []byte(signer.Address()))),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKey opens a file produced by EncryptKey and returns the hex key.
func DecryptKey(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return "", fmt.Errorf("crypto: parsing key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if kf.Iterations < minIterations {
		return "", fmt.Errorf("crypto: key file iterations %d below %d", kf.Iterations, minIterations)
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(kf.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(kf.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := keyCipher(password, salt, kf.Iterations)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce length %d", len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(kf.Address))
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadSigner resolves the operator key from cfg.
func LoadSigner(cfg KeyConfig) (*Signer, error) {
	if cfg.RawPrivateKey != "" {
		return NewSigner(cfg.RawPrivateKey)
	}
	if cfg.KeyFile != "" {
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading key file: %w", err)
		}
		keyHex, err := DecryptKey(data, cfg.KeyPassword)
		if err != nil {
			return nil, err
		}
		return NewSigner(keyHex)
	}
	return nil, errors.New("crypto: no operator key configured (set private_key or key_file)")
}
