package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// envelopeVersion prefixes every signed message so signatures cannot be
// replayed against another message format.
const envelopeVersion = "bullbear/v1"

// Envelope is a signed request. The HTTP API accepts every mutating call as
// an envelope and passes the recovered signer to the engine as the caller.
// Target names the request it was signed for ("POST /api/bets/{key}/claim"
// with the key filled in), so the record a call acts on is signed too.
type Envelope struct {
	Signer    string          `json:"signer"`
	Action    string          `json:"action"`
	Target    string          `json:"target"`
	Nonce     string          `json:"nonce"`
	ExpiresAt int64           `json:"expires_at"` // unix seconds
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// message renders the text the signer signs with personal_sign. The payload
// is committed by its keccak256 hash exactly as transmitted.
func (e Envelope) message() []byte {
	payloadHash := ethcrypto.Keccak256Hash(e.Payload)
	return []byte(fmt.Sprintf("%s\naction:%s\ntarget:%s\nsigner:%s\nnonce:%s\nexpires:%d\npayload:%s",
		envelopeVersion,
		e.Action,
		e.Target,
		strings.ToLower(e.Signer),
		e.Nonce,
		e.ExpiresAt,
		payloadHash.Hex(),
	))
}

// Digest is the EIP-191 hash of the envelope message.
func (e Envelope) Digest() []byte {
	return accounts.TextHash(e.message())
}

// Signer signs envelopes with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{privateKey: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address returns the checksummed address of the signing key.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign fills in e.Signer and e.Signature.
func (s *Signer) Sign(e *Envelope) error {
	e.Signer = s.address.Hex()
	sig, err := ethcrypto.Sign(e.Digest(), s.privateKey)
	if err != nil {
		return fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; wallets emit {27,28}.
	sig[64] += 27
	e.Signature = hexutil.Encode(sig)
	return nil
}

// Verify checks e at time now and returns the checksummed signer address.
func Verify(e Envelope, now time.Time) (string, error) {
	if !common.IsHexAddress(e.Signer) {
		return "", fmt.Errorf("crypto/signer: signer %q: %w", e.Signer, domain.ErrInvalidSignature)
	}
	if e.Nonce == "" || e.Action == "" || e.Target == "" {
		return "", fmt.Errorf("crypto/signer: missing nonce, action or target: %w", domain.ErrInvalidSignature)
	}
	if e.ExpiresAt <= now.Unix() {
		return "", domain.ErrSignatureExpired
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(e.Signature, "0x"))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return "", fmt.Errorf("crypto/signer: malformed signature: %w", domain.ErrInvalidSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(e.Digest(), sig)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: recover: %w", domain.ErrInvalidSignature)
	}
	recovered := ethcrypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(e.Signer) {
		return "", domain.ErrInvalidSignature
	}
	return recovered.Hex(), nil
}
