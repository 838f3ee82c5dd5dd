package feetx

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"nftmarket/internal/chain"
	"nftmarket/internal/contract"
	"nftmarket/internal/keyring"
)

// Default gas limits per contract method. Gas is a fixed constant per
// operation, not estimated; the constants must be tuned alongside the
// contract.
const (
	DefaultGasMint     = 3_000_000
	DefaultGasListing  = 500_000
	DefaultGasPurchase = 1_000_000
	DefaultGasTransfer = 500_000
)

// GasTable maps contract methods to their fixed gas limits.
type GasTable map[string]uint64

// DefaultGasTable returns the built-in per-method limits.
func DefaultGasTable() GasTable {
	return GasTable{
		"mintWithTokenURI": DefaultGasMint,
		"listForSale":      DefaultGasListing,
		"cancelSale":       DefaultGasListing,
		"purchase":         DefaultGasPurchase,
		"transferToken":    DefaultGasTransfer,
	}
}

// For returns the gas limit for a method, falling back to the purchase
// limit for methods without an entry.
func (g GasTable) For(method string) uint64 {
	if limit, ok := g[method]; ok && limit > 0 {
		return limit
	}
	return DefaultGasPurchase
}

// Submitter executes contract send descriptors as fee-delegated
// transactions: sender signature first, fee payer co-signature second,
// then submission. The fee payer identity is fixed for the process
// lifetime; sender keyrings are scoped to a single Execute call.
type Submitter struct {
	client   *chain.Client
	resolver *Resolver
	feePayer keyring.Keyring
	chainID  *big.Int
	gas      GasTable
	logger   *zap.Logger
}

// NewSubmitter builds a Submitter with its dependencies.
func NewSubmitter(client *chain.Client, resolver *Resolver, feePayer keyring.Keyring, chainID *big.Int, gas GasTable, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gas == nil {
		gas = DefaultGasTable()
	}
	return &Submitter{
		client:   client,
		resolver: resolver,
		feePayer: feePayer,
		chainID:  chainID,
		gas:      gas,
		logger:   logger,
	}
}

// FeePayerAddress returns the configured fee payer address.
func (s *Submitter) FeePayerAddress() string {
	return s.feePayer.Address.Hex()
}

// Execute builds, dual-signs, submits, and confirms a fee-delegated
// execution of the descriptor. Signing is local; nothing touches the
// chain until both signatures are attached, so any pre-submission
// failure leaves no on-chain state behind.
func (s *Submitter) Execute(ctx context.Context, sender keyring.Keyring, desc contract.SendDescriptor) (Confirmation, error) {
	nonce, err := s.client.PendingNonceAt(ctx, sender.Address)
	if err != nil {
		return Confirmation{}, fmt.Errorf("%w: nonce: %v", ErrNetworkUnavailable, err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return Confirmation{}, fmt.Errorf("%w: gas price: %v", ErrNetworkUnavailable, err)
	}

	tx := NewTransaction(sender.Address, desc.To, desc.Data, nonce, gasPrice, s.gas.For(desc.Method))
	if err := tx.SignAsSender(s.chainID, sender); err != nil {
		return Confirmation{}, err
	}
	if err := tx.SignAsFeePayer(s.chainID, s.feePayer); err != nil {
		return Confirmation{}, err
	}

	raw, err := tx.Encode()
	if err != nil {
		return Confirmation{}, err
	}

	s.logger.Info("execute fee-delegated call",
		zap.String("method", desc.Method),
		zap.String("sender", keyring.ShortAddress(sender.Address)),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", s.gas.For(desc.Method)),
	)

	return s.resolver.SubmitAndWait(ctx, raw)
}
