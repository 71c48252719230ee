package engine

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/bullbear/internal/domain"
)

// Namespace tags for record keys.
const (
	tagProtocol = "PROTOCOL"
	tagGame     = "GAME"
	tagRound    = "ROUND"
	tagBet      = "BET"
	tagVault    = "VAULT"
	tagWallet   = "WALLET"
)

// deriveKey hashes tag and parts with keccak256. Each part is length
// prefixed so distinct tuples never share an encoding.
func deriveKey(tag string, parts ...[]byte) string {
	buf := make([]byte, 0, 64)
	buf = append(buf, tag...)
	for _, p := range parts {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p)))
		buf = append(buf, p...)
	}
	return hexutil.Encode(ethcrypto.Keccak256(buf))
}

// ProtocolKey locates the protocol created by authority.
func ProtocolKey(authority string) string {
	return deriveKey(tagProtocol, []byte(authority))
}

// GameKey locates a game by its creation parameters.
func GameKey(authority, protocol, token, feedID string) string {
	return deriveKey(tagGame, []byte(authority), []byte(protocol), []byte(token), []byte(feedID))
}

// RoundKey locates round number n of a game.
func RoundKey(game string, n uint64) string {
	return deriveKey(tagRound, []byte(game), binary.LittleEndian.AppendUint64(nil, n))
}

// BetKey locates a player's bet in a round.
func BetKey(player, round string) string {
	return deriveKey(tagBet, []byte(player), []byte(round))
}

// VaultKey locates the vault owned by a protocol, game or round record.
func VaultKey(owner string) string {
	return deriveKey(tagVault, []byte(owner))
}

// WalletKey locates an address's wallet for one token.
func WalletKey(owner, token string) string {
	return deriveKey(tagWallet, []byte(owner), []byte(token))
}

// NormalizeAddress returns the checksummed form of a hex address.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q is not an address", domain.ErrInvalidInput, s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// NormalizeFeedID returns a lower-case 0x-prefixed 32-byte feed id.
func NormalizeFeedID(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != 32 {
		return "", fmt.Errorf("%w: feed id must be 32 bytes of hex", domain.ErrInvalidInput)
	}
	return s, nil
}
