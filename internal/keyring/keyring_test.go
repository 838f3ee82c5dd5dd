package keyring

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

func TestGenerateDerivesAddress(t *testing.T) {
	kr, err := Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	want := crypto.PubkeyToAddress(kr.PrivateKey.PublicKey)
	if kr.Address != want {
		t.Fatalf("address mismatch: %s != %s", kr.Address.Hex(), want.Hex())
	}
}

func TestFromPrivateKeyRoundTrip(t *testing.T) {
	original, err := Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	restored, err := FromPrivateKey("0x" + original.PrivateKeyHex())
	if err != nil {
		t.Fatalf("from private key failed: %v", err)
	}

	if restored.Address != original.Address {
		t.Fatalf("address mismatch: %s != %s", restored.Address.Hex(), original.Address.Hex())
	}
}

func TestFromPrivateKeyInvalid(t *testing.T) {
	cases := []string{"", "0x1234", "not-hex", "0x" + "zz" + "00"}
	for _, input := range cases {
		if _, err := FromPrivateKey(input); !errors.Is(err, ErrInvalidKeyFormat) {
			t.Fatalf("input %q: expected ErrInvalidKeyFormat, got %v", input, err)
		}
	}
}

func TestDecryptKeystore(t *testing.T) {
	kr, err := Generate()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    kr.Address,
		PrivateKey: kr.PrivateKey,
	}

	encrypted, err := keystore.EncryptKey(key, "hunter2", keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	decrypted, err := DecryptKeystore(encrypted, "hunter2")
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if decrypted.Address != kr.Address {
		t.Fatalf("address mismatch: %s != %s", decrypted.Address.Hex(), kr.Address.Hex())
	}

	if _, err := DecryptKeystore(encrypted, "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}

	if _, err := DecryptKeystore([]byte("{not json"), "hunter2"); !errors.Is(err, ErrInvalidKeystore) {
		t.Fatalf("expected ErrInvalidKeystore, got %v", err)
	}
}
