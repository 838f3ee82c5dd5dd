package keyring

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrRandomSource     = errors.New("keyring: entropy source unavailable")
	ErrInvalidKeyFormat = errors.New("keyring: private key is not a 32-byte hex value")
	ErrInvalidKeystore  = errors.New("keyring: keystore json is malformed")
	ErrWrongPassword    = errors.New("keyring: keystore password is incorrect")
)

// Keyring is an address/private-key pair used to authorize transactions.
// Instances are scoped to a single signing operation; they are passed as
// arguments, never registered in a shared wallet.
type Keyring struct {
	Address    common.Address
	PrivateKey *ecdsa.PrivateKey
}

// Generate derives a new random keyring.
func Generate() (Keyring, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Keyring{}, fmt.Errorf("%w: %v", ErrRandomSource, err)
	}
	return fromKey(key), nil
}

// FromPrivateKey builds a keyring from a hex-encoded 32-byte private key.
// The address is always derived from the key, never trusted from input.
func FromPrivateKey(hexKey string) (Keyring, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 32 {
		return Keyring{}, ErrInvalidKeyFormat
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return Keyring{}, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	return fromKey(key), nil
}

// DecryptKeystore decrypts a web3 keystore file into a keyring.
func DecryptKeystore(keystoreJSON []byte, password string) (Keyring, error) {
	key, err := keystore.DecryptKey(keystoreJSON, password)
	if err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return Keyring{}, ErrWrongPassword
		}
		return Keyring{}, fmt.Errorf("%w: %v", ErrInvalidKeystore, err)
	}
	return fromKey(key.PrivateKey), nil
}

// PrivateKeyHex returns the bare hex encoding of the private key. Only the
// durable account store should ever receive this value.
func (k Keyring) PrivateKeyHex() string {
	return hex.EncodeToString(crypto.FromECDSA(k.PrivateKey))
}

// ShortAddress is the loggable form of an address.
func ShortAddress(addr common.Address) string {
	hexAddr := addr.Hex()
	return hexAddr[:10] + "…"
}

func fromKey(key *ecdsa.PrivateKey) Keyring {
	return Keyring{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key,
	}
}
