package contract

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

func testBinding(t *testing.T) *Binding {
	t.Helper()
	contractABI, err := MarketABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return New(contractABI, common.HexToAddress("0x1111111111111111111111111111111111111111"))
}

func TestBuildSendDescriptor(t *testing.T) {
	binding := testBinding(t)

	desc, err := binding.BuildSendDescriptor("mintWithTokenURI",
		common.HexToAddress("0x2222222222222222222222222222222222222222"),
		"ipfs://bafy123/metadata.json",
	)
	if err != nil {
		t.Fatalf("build descriptor failed: %v", err)
	}
	if desc.Method != "mintWithTokenURI" {
		t.Fatalf("method mismatch: %s", desc.Method)
	}
	if desc.To != common.HexToAddress("0x1111111111111111111111111111111111111111") {
		t.Fatalf("to mismatch: %s", desc.To.Hex())
	}
	if len(desc.Data) < 4 {
		t.Fatalf("calldata too short: %d bytes", len(desc.Data))
	}
}

func TestBuildSendDescriptorUnknownMethod(t *testing.T) {
	binding := testBinding(t)

	if _, err := binding.BuildSendDescriptor("noSuchMethod"); !errors.Is(err, ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestBuildSendDescriptorArity(t *testing.T) {
	binding := testBinding(t)

	if _, err := binding.BuildSendDescriptor("purchase", big.NewInt(1), big.NewInt(2)); !errors.Is(err, ErrArgumentArity) {
		t.Fatalf("expected ErrArgumentArity, got %v", err)
	}
	if _, err := binding.BuildSendDescriptor("purchase"); !errors.Is(err, ErrArgumentArity) {
		t.Fatalf("expected ErrArgumentArity, got %v", err)
	}
}

type fakeCaller struct {
	resp []byte
	err  error
}

func (f *fakeCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return f.resp, f.err
}

func TestCall(t *testing.T) {
	binding := testBinding(t)
	owner := common.HexToAddress("0x4444444444444444444444444444444444444444")

	packed, err := binding.abi.Methods["ownerOf"].Outputs.Pack(owner)
	if err != nil {
		t.Fatalf("pack return value: %v", err)
	}

	values, err := binding.Call(context.Background(), &fakeCaller{resp: packed}, "ownerOf", big.NewInt(7))
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("expected one value, got %d", len(values))
	}
	if got, ok := values[0].(common.Address); !ok || got != owner {
		t.Fatalf("owner mismatch: %v", values[0])
	}
}

func TestCallReverted(t *testing.T) {
	binding := testBinding(t)

	_, err := binding.Call(context.Background(), &fakeCaller{err: errors.New("execution reverted")}, "ownerOf", big.NewInt(7))
	if !errors.Is(err, ErrCallReverted) {
		t.Fatalf("expected ErrCallReverted, got %v", err)
	}
}

func TestNilBindingFailsFast(t *testing.T) {
	var binding *Binding

	if _, err := binding.BuildSendDescriptor("purchase", big.NewInt(1)); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := binding.Address(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestLoadArtifactsMissing(t *testing.T) {
	binding, err := LoadArtifacts("", filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binding != nil {
		t.Fatalf("expected nil binding for missing artifact")
	}
}

func TestLoadArtifacts(t *testing.T) {
	dir := t.TempDir()
	addressPath := filepath.Join(dir, "deployed.json")
	payload := `{"address": "0x3333333333333333333333333333333333333333"}`
	if err := os.WriteFile(addressPath, []byte(payload), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	binding, err := LoadArtifacts("", addressPath)
	if err != nil {
		t.Fatalf("load artifacts: %v", err)
	}
	addr, err := binding.Address()
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if addr != common.HexToAddress("0x3333333333333333333333333333333333333333") {
		t.Fatalf("address mismatch: %s", addr.Hex())
	}
}
