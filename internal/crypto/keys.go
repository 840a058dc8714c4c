package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/pliu/securedm/internal/apperr"
	"golang.org/x/crypto/argon2"
)

// KeyBits is the RSA modulus size for identity keypairs.
var KeyBits = 2048

// KDFParams are the Argon2id cost parameters used to seal private keys.
// They are stored alongside every sealed key, so changing them only affects
// keys sealed afterwards.
type KDFParams struct {
	Time      uint32 `json:"t"`
	MemoryKiB uint32 `json:"m"`
	Threads   uint8  `json:"p"`
}

var DefaultKDF = KDFParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

const sealedKeyVersion = 1

type sealedKey struct {
	Version    int       `json:"v"`
	KDF        string    `json:"kdf"`
	Params     KDFParams `json:"params"`
	Salt       []byte    `json:"salt"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ct"`
}

func GenerateKeyPair() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return priv, nil
}

func EncodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("public key: no PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key: not RSA")
	}
	return pub, nil
}

// Fingerprint is the hex SHA-256 of the DER encoded public key.
func Fingerprint(pub *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:])
}

// SealPrivateKey encrypts priv under a key derived from passphrase with
// Argon2id and returns a self-describing JSON blob.
func SealPrivateKey(priv *rsa.PrivateKey, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("seal private key: empty passphrase")
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("marshal private key: %w", err)
	}
	salt, err := randomBytes(16)
	if err != nil {
		return "", err
	}
	params := DefaultKDF
	gcm, err := newGCM(argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Threads, 32))
	if err != nil {
		return "", err
	}
	nonce, err := randomBytes(gcm.NonceSize())
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(sealedKey{
		Version:    sealedKeyVersion,
		KDF:        "argon2id",
		Params:     params,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, der, nil),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// UnlockPrivateKey reverses SealPrivateKey. Every failure, including a
// malformed blob, is reported as ErrInvalidPassphrase.
func UnlockPrivateKey(sealed, passphrase string) (*rsa.PrivateKey, error) {
	var sk sealedKey
	if err := json.Unmarshal([]byte(sealed), &sk); err != nil {
		return nil, apperr.E(apperr.KindInvalidPassphrase, "", err)
	}
	if sk.Version != sealedKeyVersion || sk.KDF != "argon2id" || passphrase == "" {
		return nil, apperr.E(apperr.KindInvalidPassphrase, "", errors.New("unsupported sealed key"))
	}
	gcm, err := newGCM(argon2.IDKey([]byte(passphrase), sk.Salt, sk.Params.Time, sk.Params.MemoryKiB, sk.Params.Threads, 32))
	if err != nil {
		return nil, apperr.E(apperr.KindInvalidPassphrase, "", err)
	}
	if len(sk.Nonce) != gcm.NonceSize() {
		return nil, apperr.E(apperr.KindInvalidPassphrase, "", errors.New("bad nonce length"))
	}
	der, err := gcm.Open(nil, sk.Nonce, sk.Ciphertext, nil)
	if err != nil {
		return nil, apperr.E(apperr.KindInvalidPassphrase, "", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, apperr.E(apperr.KindInvalidPassphrase, "", err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, apperr.E(apperr.KindInvalidPassphrase, "", errors.New("not an RSA key"))
	}
	return priv, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}
