package market

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"nftmarket/internal/contract"
	"nftmarket/internal/feetx"
	"nftmarket/internal/ipfs"
	"nftmarket/internal/keyring"
	"nftmarket/internal/model"
)

type fakePinner struct {
	result ipfs.PinResult
	err    error
	calls  int
}

func (f *fakePinner) Pin(context.Context, ipfs.Metadata) (ipfs.PinResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeExecutor struct {
	conf   feetx.Confirmation
	err    error
	sender common.Address
}

func (f *fakeExecutor) Execute(_ context.Context, sender keyring.Keyring, _ contract.SendDescriptor) (feetx.Confirmation, error) {
	f.sender = sender.Address
	return f.conf, f.err
}

type fakeMintStore struct {
	items    map[int64]model.Item
	accounts map[string]model.Account
	states   map[int64]model.MintState

	committed       bool
	committedItem   int64
	committedToken  string
	committedCID    string
	committedURL    string
	committedTxHash string
}

func newFakeMintStore() *fakeMintStore {
	return &fakeMintStore{
		items:    make(map[int64]model.Item),
		accounts: make(map[string]model.Account),
		states:   make(map[int64]model.MintState),
	}
}

func (f *fakeMintStore) Item(_ context.Context, id int64) (model.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return model.Item{}, errors.New("no such item")
	}
	return item, nil
}

func (f *fakeMintStore) Account(_ context.Context, address string) (model.Account, error) {
	account, ok := f.accounts[address]
	if !ok {
		return model.Account{}, errors.New("no such account")
	}
	return account, nil
}

func (f *fakeMintStore) SetMintState(_ context.Context, itemID int64, state model.MintState) error {
	f.states[itemID] = state
	return nil
}

func (f *fakeMintStore) CommitMint(_ context.Context, itemID int64, tokenID, cid, ipfsURL string, receipt model.Receipt) error {
	f.committed = true
	f.committedItem = itemID
	f.committedToken = tokenID
	f.committedCID = cid
	f.committedURL = ipfsURL
	f.committedTxHash = receipt.TransactionHash
	return nil
}

func testBinding(t *testing.T) *contract.Binding {
	t.Helper()
	contractABI, err := contract.MarketABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return contract.New(contractABI, common.HexToAddress("0x1111111111111111111111111111111111111111"))
}

func mintedConfirmation(t *testing.T, owner common.Address, tokenID int64, txHash string) feetx.Confirmation {
	t.Helper()
	contractABI, err := contract.MarketABI()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	event := contractABI.Events["Minted"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(tokenID), "ipfs://abc")
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	return feetx.Confirmation{
		Receipt: model.Receipt{
			TransactionHash: txHash,
			BlockHash:       "0xbeef",
			BlockNumber:     "100",
			Status:          1,
		},
		Logs: []*types.Log{{
			Topics: []common.Hash{event.ID, common.BytesToHash(owner.Bytes())},
			Data:   data,
		}},
	}
}

func seedOwner(t *testing.T, store *fakeMintStore) keyring.Keyring {
	t.Helper()
	owner, err := keyring.Generate()
	if err != nil {
		t.Fatalf("generate owner: %v", err)
	}
	store.accounts[owner.Address.Hex()] = model.Account{
		Address:    owner.Address.Hex(),
		PrivateKey: owner.PrivateKeyHex(),
	}
	return owner
}

func TestMintPipelineSuccess(t *testing.T) {
	store := newFakeMintStore()
	owner := seedOwner(t, store)
	store.items[42] = model.Item{ID: 42, Name: "item 42", OwnerAddress: owner.Address.Hex()}

	pinner := &fakePinner{result: ipfs.PinResult{URL: "ipfs://abc", CID: "bafy123"}}
	executor := &fakeExecutor{conf: mintedConfirmation(t, owner.Address, 7, "0xdeadbeef")}

	pipeline := NewMintPipeline(pinner, testBinding(t), executor, store, nil)

	job := model.MintJob{Kind: model.JobKindMint, ItemID: 42, Metadata: model.ItemMetadata{Name: "item 42"}}
	if err := pipeline.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("handle job: %v", err)
	}

	if !store.committed {
		t.Fatalf("mint was not reconciled")
	}
	if store.committedItem != 42 {
		t.Fatalf("wrong item reconciled: %d", store.committedItem)
	}
	if store.committedToken != "7" || store.committedCID != "bafy123" || store.committedURL != "ipfs://abc" {
		t.Fatalf("nft fields mismatch: token=%s cid=%s url=%s", store.committedToken, store.committedCID, store.committedURL)
	}
	if store.committedTxHash != "0xdeadbeef" {
		t.Fatalf("receipt hash mismatch: %s", store.committedTxHash)
	}
	if executor.sender != owner.Address {
		t.Fatalf("mint signed by wrong sender: %s", executor.sender.Hex())
	}
}

func TestMintPipelineRevertLeavesItemUnlinked(t *testing.T) {
	store := newFakeMintStore()
	owner := seedOwner(t, store)
	store.items[42] = model.Item{ID: 42, Name: "item 42", OwnerAddress: owner.Address.Hex()}

	pinner := &fakePinner{result: ipfs.PinResult{URL: "ipfs://abc", CID: "bafy123"}}
	executor := &fakeExecutor{err: fmt.Errorf("%w: 0xdead", feetx.ErrReverted)}

	pipeline := NewMintPipeline(pinner, testBinding(t), executor, store, nil)

	job := model.MintJob{Kind: model.JobKindMint, ItemID: 42}
	err := pipeline.HandleJob(context.Background(), job)
	if !errors.Is(err, feetx.ErrReverted) {
		t.Fatalf("expected revert error, got %v", err)
	}

	if store.committed {
		t.Fatalf("reverted mint must not be reconciled")
	}
	if store.states[42] != model.MintStateFailed {
		t.Fatalf("state not marked failed: %s", store.states[42])
	}
}

func TestMintPipelinePinFailureSkipsChain(t *testing.T) {
	store := newFakeMintStore()
	owner := seedOwner(t, store)
	store.items[42] = model.Item{ID: 42, OwnerAddress: owner.Address.Hex()}

	pinner := &fakePinner{err: errors.New("pin service down")}
	executor := &fakeExecutor{}

	pipeline := NewMintPipeline(pinner, testBinding(t), executor, store, nil)

	if err := pipeline.HandleJob(context.Background(), model.MintJob{ItemID: 42}); err == nil {
		t.Fatalf("expected pin failure")
	}
	if executor.sender != (common.Address{}) {
		t.Fatalf("chain call must not happen after pin failure")
	}
	if store.committed {
		t.Fatalf("failed pin must not be reconciled")
	}
}

func TestMintPipelineSkipsAlreadyMinted(t *testing.T) {
	store := newFakeMintStore()
	owner := seedOwner(t, store)
	nftID := int64(9)
	store.items[42] = model.Item{ID: 42, OwnerAddress: owner.Address.Hex(), NFTID: &nftID}

	pinner := &fakePinner{}
	pipeline := NewMintPipeline(pinner, testBinding(t), &fakeExecutor{}, store, nil)

	if err := pipeline.HandleJob(context.Background(), model.MintJob{ItemID: 42}); err != nil {
		t.Fatalf("idempotent skip failed: %v", err)
	}
	if pinner.calls != 0 {
		t.Fatalf("already-minted item must not be pinned again")
	}
}

func TestMintPipelineBulk(t *testing.T) {
	store := newFakeMintStore()
	owner := seedOwner(t, store)
	store.items[1] = model.Item{ID: 1, OwnerAddress: owner.Address.Hex()}
	store.items[2] = model.Item{ID: 2, OwnerAddress: owner.Address.Hex()}

	pinner := &fakePinner{result: ipfs.PinResult{URL: "ipfs://abc", CID: "bafy123"}}
	executor := &fakeExecutor{conf: mintedConfirmation(t, owner.Address, 7, "0xdead")}

	pipeline := NewMintPipeline(pinner, testBinding(t), executor, store, nil)

	job := model.MintJob{Kind: model.JobKindMintBulk, ItemIDs: []int64{1, 2}}
	if err := pipeline.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("bulk job failed: %v", err)
	}
	if pinner.calls != 2 {
		t.Fatalf("expected 2 pins, got %d", pinner.calls)
	}
}
