package market

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"nftmarket/internal/contract"
	"nftmarket/internal/feetx"
	"nftmarket/internal/ipfs"
	"nftmarket/internal/keyring"
	"nftmarket/internal/model"
)

// Executor submits a dual-signed fee-delegated execution and waits for
// its confirmation.
type Executor interface {
	Execute(ctx context.Context, sender keyring.Keyring, desc contract.SendDescriptor) (feetx.Confirmation, error)
}

// MintStore is the persistence surface the pipeline needs.
type MintStore interface {
	Item(ctx context.Context, id int64) (model.Item, error)
	Account(ctx context.Context, address string) (model.Account, error)
	SetMintState(ctx context.Context, itemID int64, state model.MintState) error
	CommitMint(ctx context.Context, itemID int64, tokenID, cid, ipfsURL string, receipt model.Receipt) error
}

// MintPipeline executes stage-2 mint jobs: pin metadata, run the
// fee-delegated mint, extract the token id, and reconcile persisted
// state. Any failure leaves the item unlinked and surfaces an error for
// the queue's retry policy.
type MintPipeline struct {
	pinner   ipfs.Pinner
	binding  *contract.Binding
	executor Executor
	store    MintStore
	logger   *zap.Logger
}

func NewMintPipeline(pinner ipfs.Pinner, binding *contract.Binding, executor Executor, store MintStore, logger *zap.Logger) *MintPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MintPipeline{
		pinner:   pinner,
		binding:  binding,
		executor: executor,
		store:    store,
		logger:   logger,
	}
}

// HandleJob runs one stage-2 job, dispatching on the job kind.
func (p *MintPipeline) HandleJob(ctx context.Context, job model.MintJob) error {
	switch job.Kind {
	case model.JobKindMint, "":
		return p.mintItem(ctx, job.ItemID, job.Metadata)
	case model.JobKindMintBulk:
		for _, itemID := range job.ItemIDs {
			if err := p.mintItem(ctx, itemID, job.Metadata); err != nil {
				return fmt.Errorf("bulk mint item %d: %w", itemID, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (p *MintPipeline) mintItem(ctx context.Context, itemID int64, meta model.ItemMetadata) (err error) {
	item, err := p.store.Item(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load item %d: %w", itemID, err)
	}
	if item.NFTID != nil || item.NFT != nil {
		p.logger.Info("item already minted, skipping", zap.Int64("item_id", itemID))
		return nil
	}

	if err := p.store.SetMintState(ctx, itemID, model.MintStateMinting); err != nil {
		return fmt.Errorf("mark minting: %w", err)
	}
	defer func() {
		if err != nil {
			// The job context may already be cancelled at this point.
			if stateErr := p.store.SetMintState(context.WithoutCancel(ctx), itemID, model.MintStateFailed); stateErr != nil {
				p.logger.Warn("mark mint failed", zap.Int64("item_id", itemID), zap.Error(stateErr))
			}
		}
	}()

	account, err := p.store.Account(ctx, item.OwnerAddress)
	if err != nil {
		return fmt.Errorf("load owner account: %w", err)
	}
	sender, err := keyring.FromPrivateKey(account.PrivateKey)
	if err != nil {
		return fmt.Errorf("owner keyring: %w", err)
	}

	pinned, err := p.pinner.Pin(ctx, ipfs.Metadata{
		Name:        meta.Name,
		Description: meta.Description,
		Image:       meta.Image,
		ImageName:   meta.ImageName,
		Properties: ipfs.Properties{
			ContentURL:      meta.ContentURL,
			Price:           meta.Price,
			Tags:            meta.Tags,
			BackgroundColor: meta.BackgroundColor,
			ExternalSite:    meta.ExternalSite,
		},
	})
	if err != nil {
		return fmt.Errorf("pin metadata: %w", err)
	}

	desc, err := p.binding.BuildSendDescriptor("mintWithTokenURI", sender.Address, pinned.URL)
	if err != nil {
		return fmt.Errorf("build mint call: %w", err)
	}

	conf, err := p.executor.Execute(ctx, sender, desc)
	if err != nil {
		return fmt.Errorf("execute mint: %w", err)
	}

	contractABI, err := p.binding.ABI()
	if err != nil {
		return err
	}
	tokenValue, err := feetx.ExtractEventValue(contractABI, conf.Logs, "Minted", "tokenId")
	if err != nil {
		return fmt.Errorf("extract token id: %w", err)
	}
	tokenID, err := formatTokenID(tokenValue)
	if err != nil {
		return err
	}

	if err := p.store.CommitMint(ctx, itemID, tokenID, pinned.CID, pinned.URL, conf.Receipt); err != nil {
		// On-chain success with a lost off-chain record is a durability
		// incident; the error keeps the job visible for reconciliation.
		return fmt.Errorf("reconcile mint: %w", err)
	}

	p.logger.Info("mint reconciled",
		zap.Int64("item_id", itemID),
		zap.String("token_id", tokenID),
		zap.String("cid", pinned.CID),
		zap.String("tx_hash", conf.Receipt.TransactionHash),
	)
	return nil
}

func formatTokenID(value interface{}) (string, error) {
	switch v := value.(type) {
	case *big.Int:
		return v.String(), nil
	case string:
		return v, nil
	case uint64:
		return new(big.Int).SetUint64(v).String(), nil
	default:
		return "", fmt.Errorf("unsupported token id type %T", value)
	}
}
