package models

// Envelope is the encrypted wrapper published to and consumed from Kafka.
// The nonce is generated fresh per encryption and travels with the
// ciphertext; both are base64-encoded on the wire.
type Envelope struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}
