package feetx

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"nftmarket/internal/keyring"
)

// TxTypeFeeDelegatedSmartContractExecution is the envelope type byte for
// a fee-delegated contract execution.
const TxTypeFeeDelegatedSmartContractExecution = byte(0x31)

var (
	ErrSenderSignature    = errors.New("feetx: sender signature failed")
	ErrFeePayerSignature  = errors.New("feetx: fee payer signature failed")
	ErrRejected           = errors.New("feetx: transaction rejected by network")
	ErrReverted           = errors.New("feetx: transaction reverted")
	ErrNetworkUnavailable = errors.New("feetx: network unavailable")
	ErrConfirmTimeout     = errors.New("feetx: confirmation deadline exceeded")
	ErrReceiptNotFound    = errors.New("feetx: receipt not found")
)

// TxSignature is one (V, R, S) tuple in the envelope.
type TxSignature struct {
	V *big.Int
	R *big.Int
	S *big.Int
}

// Transaction is a fee-delegated smart contract execution. The sender
// authorizes the call, the fee payer authorizes fee payment; both
// signatures are required before the envelope can be encoded.
type Transaction struct {
	Nonce    uint64
	GasPrice *big.Int
	Gas      uint64
	To       common.Address
	Value    *big.Int
	From     common.Address
	Data     []byte

	SenderSignatures   []TxSignature
	FeePayer           common.Address
	FeePayerSignatures []TxSignature
}

// NewTransaction builds an unsigned fee-delegated execution of the given
// calldata. Value is zero; the marketplace settles prices in-contract.
func NewTransaction(from, to common.Address, data []byte, nonce uint64, gasPrice *big.Int, gas uint64) *Transaction {
	if gasPrice == nil {
		gasPrice = new(big.Int)
	}
	return &Transaction{
		Nonce:    nonce,
		GasPrice: new(big.Int).Set(gasPrice),
		Gas:      gas,
		To:       to,
		Value:    new(big.Int),
		From:     from,
		Data:     data,
	}
}

// basePayload is the common prefix both signature hashes commit to.
func (tx *Transaction) basePayload() ([]byte, error) {
	return rlp.EncodeToBytes([]interface{}{
		TxTypeFeeDelegatedSmartContractExecution,
		tx.Nonce,
		tx.GasPrice,
		tx.Gas,
		tx.To,
		tx.Value,
		tx.From,
		tx.Data,
	})
}

// SenderSigHash is the hash the sender signs.
func (tx *Transaction) SenderSigHash(chainID *big.Int) (common.Hash, error) {
	base, err := tx.basePayload()
	if err != nil {
		return common.Hash{}, err
	}
	enc, err := rlp.EncodeToBytes([]interface{}{base, chainID, uint(0), uint(0)})
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// FeePayerSigHash is the hash the fee payer signs. It additionally
// commits to the fee payer address.
func (tx *Transaction) FeePayerSigHash(chainID *big.Int, feePayer common.Address) (common.Hash, error) {
	base, err := tx.basePayload()
	if err != nil {
		return common.Hash{}, err
	}
	enc, err := rlp.EncodeToBytes([]interface{}{base, feePayer, chainID, uint(0), uint(0)})
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// SignAsSender attaches the sender signature. The keyring must match the
// transaction's From address.
func (tx *Transaction) SignAsSender(chainID *big.Int, kr keyring.Keyring) error {
	if kr.Address != tx.From {
		return fmt.Errorf("%w: keyring %s does not match sender %s",
			ErrSenderSignature, keyring.ShortAddress(kr.Address), keyring.ShortAddress(tx.From))
	}
	hash, err := tx.SenderSigHash(chainID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSenderSignature, err)
	}
	sig, err := signTuple(hash, kr, chainID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSenderSignature, err)
	}
	tx.SenderSignatures = append(tx.SenderSignatures, sig)
	return nil
}

// SignAsFeePayer co-signs as fee payer. Co-signing is order-dependent:
// a sender signature must already be attached.
func (tx *Transaction) SignAsFeePayer(chainID *big.Int, kr keyring.Keyring) error {
	if len(tx.SenderSignatures) == 0 {
		return fmt.Errorf("%w: sender signature must be attached first", ErrFeePayerSignature)
	}
	hash, err := tx.FeePayerSigHash(chainID, kr.Address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFeePayerSignature, err)
	}
	sig, err := signTuple(hash, kr, chainID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFeePayerSignature, err)
	}
	tx.FeePayer = kr.Address
	tx.FeePayerSignatures = append(tx.FeePayerSignatures, sig)
	return nil
}

// Encode produces the raw wire payload: the type byte followed by the
// RLP of the fully signed envelope.
func (tx *Transaction) Encode() ([]byte, error) {
	if len(tx.SenderSignatures) == 0 {
		return nil, fmt.Errorf("%w: encoding unsigned transaction", ErrSenderSignature)
	}
	if len(tx.FeePayerSignatures) == 0 {
		return nil, fmt.Errorf("%w: encoding without fee payer signature", ErrFeePayerSignature)
	}

	payload, err := rlp.EncodeToBytes(encodedTx{
		Nonce:              tx.Nonce,
		GasPrice:           tx.GasPrice,
		Gas:                tx.Gas,
		To:                 tx.To,
		Value:              tx.Value,
		From:               tx.From,
		Data:               tx.Data,
		SenderSignatures:   tx.SenderSignatures,
		FeePayer:           tx.FeePayer,
		FeePayerSignatures: tx.FeePayerSignatures,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte(TxTypeFeeDelegatedSmartContractExecution)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// encodedTx fixes the RLP field order of the signed envelope.
type encodedTx struct {
	Nonce              uint64
	GasPrice           *big.Int
	Gas                uint64
	To                 common.Address
	Value              *big.Int
	From               common.Address
	Data               []byte
	SenderSignatures   []TxSignature
	FeePayer           common.Address
	FeePayerSignatures []TxSignature
}

// Decode parses a raw fee-delegated execution payload.
func Decode(raw []byte) (*Transaction, error) {
	if len(raw) < 2 || raw[0] != TxTypeFeeDelegatedSmartContractExecution {
		return nil, fmt.Errorf("feetx: not a fee-delegated execution payload")
	}
	var enc encodedTx
	if err := rlp.DecodeBytes(raw[1:], &enc); err != nil {
		return nil, fmt.Errorf("feetx: decode envelope: %w", err)
	}
	return &Transaction{
		Nonce:              enc.Nonce,
		GasPrice:           enc.GasPrice,
		Gas:                enc.Gas,
		To:                 enc.To,
		Value:              enc.Value,
		From:               enc.From,
		Data:               enc.Data,
		SenderSignatures:   enc.SenderSignatures,
		FeePayer:           enc.FeePayer,
		FeePayerSignatures: enc.FeePayerSignatures,
	}, nil
}

// RecoverSender returns the address recovered from the first sender
// signature.
func (tx *Transaction) RecoverSender(chainID *big.Int) (common.Address, error) {
	hash, err := tx.SenderSigHash(chainID)
	if err != nil {
		return common.Address{}, err
	}
	return recoverTuple(hash, tx.SenderSignatures, chainID)
}

// RecoverFeePayer returns the address recovered from the first fee payer
// signature.
func (tx *Transaction) RecoverFeePayer(chainID *big.Int) (common.Address, error) {
	hash, err := tx.FeePayerSigHash(chainID, tx.FeePayer)
	if err != nil {
		return common.Address{}, err
	}
	return recoverTuple(hash, tx.FeePayerSignatures, chainID)
}

func signTuple(hash common.Hash, kr keyring.Keyring, chainID *big.Int) (TxSignature, error) {
	sig, err := crypto.Sign(hash.Bytes(), kr.PrivateKey)
	if err != nil {
		return TxSignature{}, err
	}

	v := new(big.Int).SetUint64(uint64(sig[64]))
	v.Add(v, new(big.Int).Mul(chainID, big.NewInt(2)))
	v.Add(v, big.NewInt(35))

	return TxSignature{
		V: v,
		R: new(big.Int).SetBytes(sig[:32]),
		S: new(big.Int).SetBytes(sig[32:64]),
	}, nil
}

func recoverTuple(hash common.Hash, sigs []TxSignature, chainID *big.Int) (common.Address, error) {
	if len(sigs) == 0 {
		return common.Address{}, fmt.Errorf("feetx: no signature to recover")
	}

	recID := new(big.Int).Set(sigs[0].V)
	recID.Sub(recID, new(big.Int).Mul(chainID, big.NewInt(2)))
	recID.Sub(recID, big.NewInt(35))
	if !recID.IsUint64() || recID.Uint64() > 1 {
		return common.Address{}, fmt.Errorf("feetx: invalid recovery id %s", sigs[0].V)
	}

	sig := make([]byte, 65)
	sigs[0].R.FillBytes(sig[:32])
	sigs[0].S.FillBytes(sig[32:64])
	sig[64] = byte(recID.Uint64())

	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("feetx: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
