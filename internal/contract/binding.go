package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnavailable   = errors.New("contract: binding not loaded")
	ErrUnknownMethod = errors.New("contract: method not in abi")
	ErrArgumentArity = errors.New("contract: argument count mismatch")
	ErrCallReverted  = errors.New("contract: call reverted")
)

// Binding holds the deployed contract's ABI and address. It is loaded
// once at startup and read-only afterward. A nil Binding is valid and
// fails every operation with ErrUnavailable.
type Binding struct {
	abi     abi.ABI
	address common.Address
}

// SendDescriptor is a validated, encoded state-changing call, ready to
// be wrapped into a fee-delegated transaction.
type SendDescriptor struct {
	Method string
	To     common.Address
	Data   []byte
}

// New builds a binding from an already-parsed ABI and address.
func New(contractABI abi.ABI, address common.Address) *Binding {
	return &Binding{abi: contractABI, address: address}
}

// deploymentArtifact is the shape of the address artifact written by the
// deployment step.
type deploymentArtifact struct {
	Address string `json:"address"`
}

// LoadArtifacts reads the deployed address (and an optional ABI
// override) from deployment artifact files. Missing artifacts degrade
// to a nil binding rather than an error, so the process can start with
// chain operations unavailable.
func LoadArtifacts(abiPath, addressPath string) (*Binding, error) {
	if addressPath == "" {
		return nil, nil
	}
	addrData, err := os.ReadFile(addressPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read address artifact: %w", err)
	}

	var artifact deploymentArtifact
	if err := json.Unmarshal(addrData, &artifact); err != nil {
		return nil, fmt.Errorf("parse address artifact: %w", err)
	}
	if !common.IsHexAddress(artifact.Address) {
		return nil, fmt.Errorf("address artifact holds invalid address %q", artifact.Address)
	}

	contractABI, err := MarketABI()
	if err != nil {
		return nil, fmt.Errorf("parse market abi: %w", err)
	}
	if abiPath != "" {
		abiData, err := os.ReadFile(abiPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read abi artifact: %w", err)
			}
		} else {
			contractABI, err = abi.JSON(strings.NewReader(string(abiData)))
			if err != nil {
				return nil, fmt.Errorf("parse abi artifact: %w", err)
			}
		}
	}

	return New(contractABI, common.HexToAddress(artifact.Address)), nil
}

// Address returns the deployed contract address.
func (b *Binding) Address() (common.Address, error) {
	if b == nil {
		return common.Address{}, ErrUnavailable
	}
	return b.address, nil
}

// ABI returns the contract ABI.
func (b *Binding) ABI() (abi.ABI, error) {
	if b == nil {
		return abi.ABI{}, ErrUnavailable
	}
	return b.abi, nil
}

// Caller performs read-only contract calls; chain.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Call performs a read-only contract call and returns the unpacked
// values. No gas is spent and no signature is involved.
func (b *Binding) Call(ctx context.Context, caller Caller, method string, args ...interface{}) ([]interface{}, error) {
	if b == nil {
		return nil, ErrUnavailable
	}
	data, err := b.pack(method, args...)
	if err != nil {
		return nil, err
	}

	msg := ethereum.CallMsg{To: &b.address, Data: data}
	resp, err := caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCallReverted, method, err)
	}

	values, err := b.abi.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// BuildSendDescriptor validates the method and argument arity against
// the ABI and packs the calldata. Pure function, no I/O.
func (b *Binding) BuildSendDescriptor(method string, args ...interface{}) (SendDescriptor, error) {
	if b == nil {
		return SendDescriptor{}, ErrUnavailable
	}
	data, err := b.pack(method, args...)
	if err != nil {
		return SendDescriptor{}, err
	}
	return SendDescriptor{Method: method, To: b.address, Data: data}, nil
}

func (b *Binding) pack(method string, args ...interface{}) ([]byte, error) {
	m, ok := b.abi.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if len(m.Inputs) != len(args) {
		return nil, fmt.Errorf("%w: %s wants %d args, got %d", ErrArgumentArity, method, len(m.Inputs), len(args))
	}
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}
