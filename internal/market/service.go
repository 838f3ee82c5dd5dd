package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nftmarket/internal/contract"
	"nftmarket/internal/feetx"
	"nftmarket/internal/keyring"
	"nftmarket/internal/model"
)

var (
	ErrValidation = errors.New("market: invalid input")
	ErrNotFound   = errors.New("market: not found")
	ErrNotMinted  = errors.New("market: item has no nft yet")
)

// Store is the persistence surface the service needs.
type Store interface {
	MintStore
	CreateAccount(ctx context.Context, account model.Account) error
	CreateItem(ctx context.Context, item *model.Item) error
	Items(ctx context.Context) ([]model.Item, error)
	UpdateSale(ctx context.Context, itemID int64, forSale bool, price string) error
	UpdateOwner(ctx context.Context, itemID int64, owner string) error
	SaveTradeReceipt(ctx context.Context, receipt model.Receipt) error
	ReceiptByHash(ctx context.Context, hash string) (model.Receipt, error)
}

// Enqueuer accepts mint jobs into stage 1.
type Enqueuer interface {
	EnqueueMintRequest(ctx context.Context, job model.MintJob) error
}

// ReceiptReader resolves receipts for already-submitted transactions.
type ReceiptReader interface {
	ReceiptByHash(ctx context.Context, hash common.Hash) (model.Receipt, error)
}

// BindingFacade is the slice of the contract binding the service uses;
// *contract.Binding satisfies it.
type BindingFacade interface {
	BuildSendDescriptor(method string, args ...interface{}) (contract.SendDescriptor, error)
	Call(ctx context.Context, caller contract.Caller, method string, args ...interface{}) ([]interface{}, error)
}

// Service implements the marketplace business operations. All chain
// effects go through the fee-delegated executor, so end users never pay
// gas themselves.
type Service struct {
	store    Store
	enqueuer Enqueuer
	executor Executor
	receipts ReceiptReader
	binding  BindingFacade
	caller   contract.Caller
	logger   *zap.Logger
}

func NewService(store Store, enqueuer Enqueuer, executor Executor, receipts ReceiptReader, binding BindingFacade, caller contract.Caller, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		enqueuer: enqueuer,
		executor: executor,
		receipts: receipts,
		binding:  binding,
		caller:   caller,
		logger:   logger,
	}
}

// CreateAccount generates a fresh keypair and stores it durably. The
// response never carries the private key.
func (s *Service) CreateAccount(ctx context.Context) (model.Account, error) {
	kr, err := keyring.Generate()
	if err != nil {
		return model.Account{}, fmt.Errorf("generate account: %w", err)
	}
	account := model.Account{
		Address:    kr.Address.Hex(),
		PrivateKey: kr.PrivateKeyHex(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return model.Account{}, fmt.Errorf("store account: %w", err)
	}
	account.PrivateKey = ""
	return account, nil
}

// Account loads a stored account by address.
func (s *Service) Account(ctx context.Context, address string) (model.Account, error) {
	if !common.IsHexAddress(address) {
		return model.Account{}, fmt.Errorf("%w: address %q", ErrValidation, address)
	}
	account, err := s.store.Account(ctx, normalizeAddress(address))
	if err != nil {
		return model.Account{}, err
	}
	account.PrivateKey = ""
	return account, nil
}

// CreateItemInput is the validated payload for a new listing.
type CreateItemInput struct {
	Name            string
	Description     string
	ContentURL      string
	Price           string
	OwnerAddress    string
	Image           []byte
	ImageName       string
	Tags            []string
	BackgroundColor string
	ExternalSite    string
}

// CreateItem persists a draft item and enqueues its mint request. The
// item returns in QUEUED_FOR_MINT_REQUEST; the NFT link appears only
// after the asynchronous mint confirms.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (model.Item, error) {
	if input.Name == "" {
		return model.Item{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !common.IsHexAddress(input.OwnerAddress) {
		return model.Item{}, fmt.Errorf("%w: owner address %q", ErrValidation, input.OwnerAddress)
	}
	if _, err := s.store.Account(ctx, normalizeAddress(input.OwnerAddress)); err != nil {
		return model.Item{}, fmt.Errorf("%w: owner account unknown", ErrValidation)
	}

	item := model.Item{
		Name:         input.Name,
		Description:  input.Description,
		ContentURL:   input.ContentURL,
		Price:        input.Price,
		OwnerAddress: normalizeAddress(input.OwnerAddress),
		MintState:    model.MintStateCreated,
	}
	if err := s.store.CreateItem(ctx, &item); err != nil {
		return model.Item{}, fmt.Errorf("create item: %w", err)
	}

	job := model.MintJob{
		Kind:   model.JobKindMint,
		ItemID: item.ID,
		Metadata: model.ItemMetadata{
			Name:            input.Name,
			Description:     input.Description,
			ContentURL:      input.ContentURL,
			Price:           input.Price,
			Image:           input.Image,
			ImageName:       input.ImageName,
			Tags:            input.Tags,
			BackgroundColor: input.BackgroundColor,
			ExternalSite:    input.ExternalSite,
		},
	}
	if err := s.enqueuer.EnqueueMintRequest(ctx, job); err != nil {
		return model.Item{}, fmt.Errorf("enqueue mint: %w", err)
	}
	if err := s.store.SetMintState(ctx, item.ID, model.MintStateQueuedRequest); err != nil {
		s.logger.Warn("mark queued failed", zap.Int64("item_id", item.ID), zap.Error(err))
	}
	item.MintState = model.MintStateQueuedRequest

	return item, nil
}

// Items lists all items.
func (s *Service) Items(ctx context.Context) ([]model.Item, error) {
	return s.store.Items(ctx)
}

// Item loads one item.
func (s *Service) Item(ctx context.Context, id int64) (model.Item, error) {
	return s.store.Item(ctx, id)
}

// Sell lists a minted item for sale at the given price.
func (s *Service) Sell(ctx context.Context, itemID int64, price string) (model.Receipt, error) {
	if price == "" {
		return model.Receipt{}, fmt.Errorf("%w: price is required", ErrValidation)
	}
	priceWei, ok := new(big.Int).SetString(price, 10)
	if !ok || priceWei.Sign() <= 0 {
		return model.Receipt{}, fmt.Errorf("%w: price %q", ErrValidation, price)
	}

	item, tokenID, err := s.mintedItem(ctx, itemID)
	if err != nil {
		return model.Receipt{}, err
	}

	receipt, err := s.executeAs(ctx, item.OwnerAddress, "listForSale", tokenID, priceWei)
	if err != nil {
		return model.Receipt{}, err
	}
	if err := s.store.UpdateSale(ctx, itemID, true, price); err != nil {
		return receipt, fmt.Errorf("record sale listing: %w", err)
	}
	return receipt, nil
}

// CancelSale delists an item.
func (s *Service) CancelSale(ctx context.Context, itemID int64) (model.Receipt, error) {
	item, tokenID, err := s.mintedItem(ctx, itemID)
	if err != nil {
		return model.Receipt{}, err
	}

	receipt, err := s.executeAs(ctx, item.OwnerAddress, "cancelSale", tokenID)
	if err != nil {
		return model.Receipt{}, err
	}
	if err := s.store.UpdateSale(ctx, itemID, false, item.Price); err != nil {
		return receipt, fmt.Errorf("record sale cancel: %w", err)
	}
	return receipt, nil
}

// Buy purchases a listed item on behalf of the buyer. The buyer signs
// the purchase; the fee payer covers gas.
func (s *Service) Buy(ctx context.Context, itemID int64, buyerAddress string) (model.Receipt, error) {
	if !common.IsHexAddress(buyerAddress) {
		return model.Receipt{}, fmt.Errorf("%w: buyer address %q", ErrValidation, buyerAddress)
	}

	item, tokenID, err := s.mintedItem(ctx, itemID)
	if err != nil {
		return model.Receipt{}, err
	}
	if !item.ForSale {
		return model.Receipt{}, fmt.Errorf("%w: item %d is not for sale", ErrValidation, itemID)
	}

	receipt, err := s.executeAs(ctx, normalizeAddress(buyerAddress), "purchase", tokenID)
	if err != nil {
		return model.Receipt{}, err
	}
	if err := s.store.UpdateOwner(ctx, itemID, normalizeAddress(buyerAddress)); err != nil {
		return receipt, fmt.Errorf("record ownership change: %w", err)
	}
	return receipt, nil
}

// Transfer moves a minted item to another address without a sale.
func (s *Service) Transfer(ctx context.Context, itemID int64, toAddress string) (model.Receipt, error) {
	if !common.IsHexAddress(toAddress) {
		return model.Receipt{}, fmt.Errorf("%w: destination address %q", ErrValidation, toAddress)
	}

	item, tokenID, err := s.mintedItem(ctx, itemID)
	if err != nil {
		return model.Receipt{}, err
	}

	receipt, err := s.executeAs(ctx, item.OwnerAddress, "transferToken", common.HexToAddress(toAddress), tokenID)
	if err != nil {
		return model.Receipt{}, err
	}
	if err := s.store.UpdateOwner(ctx, itemID, normalizeAddress(toAddress)); err != nil {
		return receipt, fmt.Errorf("record ownership change: %w", err)
	}
	return receipt, nil
}

// TokenOwner reads the item's current owner from the contract itself,
// bypassing the persisted owner column.
func (s *Service) TokenOwner(ctx context.Context, itemID int64) (string, error) {
	_, tokenID, err := s.mintedItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	values, err := s.binding.Call(ctx, s.caller, "ownerOf", tokenID)
	if err != nil {
		return "", err
	}
	if len(values) != 1 {
		return "", fmt.Errorf("ownerOf returned %d values", len(values))
	}
	owner, ok := values[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("ownerOf returned %T, want address", values[0])
	}
	return owner.Hex(), nil
}

// Transaction looks up the receipt for a submitted transaction hash.
func (s *Service) Transaction(ctx context.Context, hash string) (model.Receipt, error) {
	if len(hash) != 66 || hash[:2] != "0x" {
		return model.Receipt{}, fmt.Errorf("%w: transaction hash %q", ErrValidation, hash)
	}
	if stored, err := s.store.ReceiptByHash(ctx, hash); err == nil {
		return stored, nil
	}
	receipt, err := s.receipts.ReceiptByHash(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, feetx.ErrReceiptNotFound) {
			return model.Receipt{}, ErrNotFound
		}
		return model.Receipt{}, err
	}
	return receipt, nil
}

// mintedItem loads the item and its on-chain token id.
func (s *Service) mintedItem(ctx context.Context, itemID int64) (model.Item, *big.Int, error) {
	item, err := s.store.Item(ctx, itemID)
	if err != nil {
		return model.Item{}, nil, err
	}
	if item.NFT == nil {
		return model.Item{}, nil, fmt.Errorf("%w: item %d", ErrNotMinted, itemID)
	}
	tokenID, ok := new(big.Int).SetString(item.NFT.TokenID, 10)
	if !ok {
		return model.Item{}, nil, fmt.Errorf("item %d has malformed token id %q", itemID, item.NFT.TokenID)
	}
	return item, tokenID, nil
}

// executeAs runs a fee-delegated contract call signed by the account's
// keyring, then persists the receipt. The keyring lives only for this
// call.
func (s *Service) executeAs(ctx context.Context, address, method string, args ...interface{}) (model.Receipt, error) {
	account, err := s.store.Account(ctx, address)
	if err != nil {
		return model.Receipt{}, fmt.Errorf("load account: %w", err)
	}
	sender, err := keyring.FromPrivateKey(account.PrivateKey)
	if err != nil {
		return model.Receipt{}, fmt.Errorf("account keyring: %w", err)
	}

	desc, err := s.binding.BuildSendDescriptor(method, args...)
	if err != nil {
		return model.Receipt{}, err
	}

	conf, err := s.executor.Execute(ctx, sender, desc)
	if err != nil {
		return conf.Receipt, err
	}
	if err := s.store.SaveTradeReceipt(ctx, conf.Receipt); err != nil {
		return conf.Receipt, fmt.Errorf("persist receipt: %w", err)
	}
	return conf.Receipt, nil
}

func normalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}
