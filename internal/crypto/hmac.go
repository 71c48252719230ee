package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// minSealSecretLen is the shortest custody secret NewVaultSealer accepts.
const minSealSecretLen = 16

// VaultSealer issues and checks vault authorities. The seal is
// HMAC-SHA256(secret, "vault:" || owner), so an authority can only be made
// by whoever holds the secret.
type VaultSealer struct {
	secret []byte
}

// NewVaultSealer returns a sealer keyed with secret.
func NewVaultSealer(secret string) (*VaultSealer, error) {
	if len(secret) < minSealSecretLen {
		return nil, fmt.Errorf("crypto: custody secret must be at least %d bytes", minSealSecretLen)
	}
	return &VaultSealer{secret: []byte(secret)}, nil
}

// Seal returns the authority for owner.
func (s *VaultSealer) Seal(owner string) domain.VaultAuthority {
	return domain.VaultAuthority{Owner: owner, Seal: s.mac(owner)}
}

// Verify reports whether auth was produced by Seal with the same secret.
func (s *VaultSealer) Verify(auth domain.VaultAuthority) bool {
	if auth.Owner == "" || len(auth.Seal) == 0 {
		return false
	}
	return hmac.Equal(auth.Seal, s.mac(auth.Owner))
}

// Verifier returns a view of s that can check seals but not issue them.
func (s *VaultSealer) Verifier() domain.VaultVerifier {
	return sealVerifier{s: s}
}

func (s *VaultSealer) mac(owner string) []byte {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte("vault:"))
	m.Write([]byte(owner))
	return m.Sum(nil)
}

type sealVerifier struct {
	s *VaultSealer
}

func (v sealVerifier) Verify(auth domain.VaultAuthority) bool {
	return v.s.Verify(auth)
}

var (
	_ domain.VaultSealer   = (*VaultSealer)(nil)
	_ domain.VaultVerifier = (*VaultSealer)(nil)
)
