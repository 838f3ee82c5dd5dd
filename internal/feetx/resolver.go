package feetx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"nftmarket/internal/chain"
	"nftmarket/internal/model"
)

// ErrEventNotFound is returned when no log matches the requested event.
var ErrEventNotFound = errors.New("feetx: event not found in receipt")

// Confirmation pairs the normalized receipt with the raw logs so callers
// can extract emitted event values.
type Confirmation struct {
	Receipt model.Receipt
	Logs    []*types.Log
}

// Resolver submits raw transactions and resolves their receipts.
type Resolver struct {
	client         *chain.Client
	pollInterval   time.Duration
	confirmTimeout time.Duration
	logger         *zap.Logger
}

// NewResolver builds a Resolver. Submission waits are bounded by
// confirmTimeout; receipts are polled at pollInterval.
func NewResolver(client *chain.Client, pollInterval, confirmTimeout time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 2 * time.Minute
	}
	return &Resolver{
		client:         client,
		pollInterval:   pollInterval,
		confirmTimeout: confirmTimeout,
		logger:         logger,
	}
}

// SubmitAndWait submits a raw transaction and blocks until the network
// includes it or the confirmation deadline passes. An included-but-
// reverted transaction returns ErrReverted along with the receipt.
func (r *Resolver) SubmitAndWait(ctx context.Context, raw []byte) (Confirmation, error) {
	hash, err := r.client.SendRawTransaction(ctx, raw)
	if err != nil {
		if ctx.Err() != nil {
			return Confirmation{}, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
		}
		return Confirmation{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}

	r.logger.Info("transaction submitted", zap.String("tx_hash", hash.Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()

	receipt, err := r.waitMined(waitCtx, hash)
	if err != nil {
		return Confirmation{}, err
	}

	conf := Confirmation{Receipt: toReceipt(receipt), Logs: receipt.Logs}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return conf, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
	}
	return conf, nil
}

// ReceiptByHash is the read path for already-submitted transactions.
func (r *Resolver) ReceiptByHash(ctx context.Context, hash common.Hash) (model.Receipt, error) {
	receipt, err := r.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return model.Receipt{}, ErrReceiptNotFound
		}
		return model.Receipt{}, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	return toReceipt(receipt), nil
}

func (r *Resolver) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			r.logger.Warn("receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrConfirmTimeout, hash.Hex())
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func toReceipt(receipt *types.Receipt) model.Receipt {
	blockNumber := ""
	if receipt.BlockNumber != nil {
		blockNumber = receipt.BlockNumber.String()
	}
	return model.Receipt{
		TransactionHash: receipt.TxHash.Hex(),
		BlockHash:       receipt.BlockHash.Hex(),
		BlockNumber:     blockNumber,
		Status:          receipt.Status,
		GasUsed:         receipt.GasUsed,
	}
}

// ExtractEventValue finds the named event in the logs and returns the
// named field. Nodes have been observed returning the same event value
// either as a single object or as an array of one; both shapes normalize
// to the same result.
func ExtractEventValue(contractABI abi.ABI, logs []*types.Log, eventName, fieldName string) (interface{}, error) {
	event, ok := contractABI.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("feetx: event %s not in abi", eventName)
	}

	for _, logEntry := range logs {
		if logEntry == nil || len(logEntry.Topics) == 0 || logEntry.Topics[0] != event.ID {
			continue
		}

		values := map[string]interface{}{}
		if err := contractABI.UnpackIntoMap(values, eventName, logEntry.Data); err != nil {
			return nil, fmt.Errorf("feetx: unpack event %s: %w", eventName, err)
		}

		var indexed abi.Arguments
		for _, arg := range event.Inputs {
			if arg.Indexed {
				indexed = append(indexed, arg)
			}
		}
		if len(indexed) > 0 {
			if err := abi.ParseTopicsIntoMap(values, indexed, logEntry.Topics[1:]); err != nil {
				return nil, fmt.Errorf("feetx: parse event topics %s: %w", eventName, err)
			}
		}

		value, ok := values[fieldName]
		if !ok {
			return nil, fmt.Errorf("feetx: event %s has no field %s", eventName, fieldName)
		}
		return normalizeEventValue(value), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventName)
}

// normalizeEventValue collapses the array-of-one shape into the single
// value shape so both representations read identically.
func normalizeEventValue(value interface{}) interface{} {
	if slice, ok := value.([]interface{}); ok && len(slice) == 1 {
		return slice[0]
	}
	return value
}
