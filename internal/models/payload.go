package models

// Envelope is a message encrypted under a one-time content key, with that key
// wrapped once for each party.
type Envelope struct {
	Ciphertext         []byte `json:"ciphertext"`
	Nonce              []byte `json:"nonce"`
	WrappedKeySender   []byte `json:"wrapped_key_sender"`
	WrappedKeyReceiver []byte `json:"wrapped_key_receiver"`

	// SHA-256 of the public keys the content key was wrapped under.
	SenderKeyFingerprint   string `json:"sender_key_fingerprint,omitempty"`
	ReceiverKeyFingerprint string `json:"receiver_key_fingerprint,omitempty"`
}

type PayloadKind string

const (
	PayloadText PayloadKind = "text"
	PayloadFile PayloadKind = "file"
)

// Payload is either a TextPayload or a FilePayload. The interface is sealed,
// so a message can never hold both shapes.
type Payload interface {
	Kind() PayloadKind
	sealed()
}

type TextPayload struct {
	Envelope Envelope
}

func (TextPayload) Kind() PayloadKind { return PayloadText }
func (TextPayload) sealed()           {}

// FilePayload references bytes held in blob storage. The bytes are not
// covered by the envelope scheme.
type FilePayload struct {
	URL string
}

func (FilePayload) Kind() PayloadKind { return PayloadFile }
func (FilePayload) sealed()           {}

func NewTextPayload(env *Envelope) Payload {
	return TextPayload{Envelope: *env}
}

func NewFilePayload(url string) Payload {
	return FilePayload{URL: url}
}
