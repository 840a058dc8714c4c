// Package crypto implements the hybrid envelope used for every text message
// and the passphrase sealing of identity private keys.
//
// A message is encrypted once with AES-256-GCM under a fresh random key and
// nonce. That key is wrapped with RSA-OAEP(SHA-256) under the sender's and the
// receiver's public keys, so either party can later recover it with their own
// private key and nobody else can.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/pliu/securedm/internal/apperr"
	"github.com/pliu/securedm/internal/models"
)

const ContentKeySize = 32

type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleSender {
		return "sender"
	}
	return "receiver"
}

// RoleOf reports which side of msg userID is on. ok is false when userID is
// neither the sender nor the receiver.
func RoleOf(msg *models.Message, userID int64) (role Role, ok bool) {
	switch userID {
	case msg.SenderID:
		return RoleSender, true
	case msg.ReceiverID:
		return RoleReceiver, true
	}
	return RoleReceiver, false
}

func EncryptForThread(content []byte, senderPub, receiverPub *rsa.PublicKey) (*models.Envelope, error) {
	if senderPub == nil || receiverPub == nil {
		return nil, errors.New("encrypt: missing public key")
	}
	key, err := randomBytes(ContentKeySize)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w", err)
	}
	nonce, err := randomBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}

	forSender, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, senderPub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap key for sender: %w", err)
	}
	forReceiver, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, receiverPub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("wrap key for receiver: %w", err)
	}

	return &models.Envelope{
		Ciphertext:             gcm.Seal(nil, nonce, content, nil),
		Nonce:                  nonce,
		WrappedKeySender:       forSender,
		WrappedKeyReceiver:     forReceiver,
		SenderKeyFingerprint:   Fingerprint(senderPub),
		ReceiverKeyFingerprint: Fingerprint(receiverPub),
	}, nil
}

func DecryptEnvelope(env *models.Envelope, role Role, priv *rsa.PrivateKey) ([]byte, error) {
	if env == nil || priv == nil {
		return nil, decryptErr(errors.New("missing envelope or key"))
	}
	wrapped, fp := env.WrappedKeyReceiver, env.ReceiverKeyFingerprint
	if role == RoleSender {
		wrapped, fp = env.WrappedKeySender, env.SenderKeyFingerprint
	}
	if len(wrapped) == 0 {
		return nil, decryptErr(fmt.Errorf("no wrapped key for %s", role))
	}
	if fp != "" && fp != Fingerprint(&priv.PublicKey) {
		return nil, decryptErr(fmt.Errorf("%s key was wrapped for a different public key", role))
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, decryptErr(err)
	}
	defer wipe(key)
	if len(key) != ContentKeySize {
		return nil, decryptErr(fmt.Errorf("content key is %d bytes", len(key)))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, decryptErr(err)
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return nil, decryptErr(fmt.Errorf("nonce is %d bytes", len(env.Nonce)))
	}
	plain, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, decryptErr(err)
	}
	return plain, nil
}

func decryptErr(cause error) error {
	return apperr.E(apperr.KindDecryptionFailed, "", cause)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
