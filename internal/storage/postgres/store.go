package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nftmarket/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("postgres: not found")

// Store provides Postgres persistence for marketplace state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// CreateAccount stores a durable address/private-key pair.
func (s *Store) CreateAccount(ctx context.Context, account model.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (address, private_key, created_at)
		VALUES ($1, $2, now())
	`, account.Address, account.PrivateKey)
	return err
}

// Account loads an account by address. The private key is read for one
// signing operation and must not be cached by callers.
func (s *Store) Account(ctx context.Context, address string) (model.Account, error) {
	var account model.Account
	row := s.pool.QueryRow(ctx, `
		SELECT address, private_key, created_at FROM accounts WHERE address = $1
	`, address)
	if err := row.Scan(&account.Address, &account.PrivateKey, &account.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, err
	}
	return account, nil
}

// CreateItem persists a draft item and fills in its id and timestamps.
func (s *Store) CreateItem(ctx context.Context, item *model.Item) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO items (name, description, content_url, price, owner_address, for_sale, mint_state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING id, created_at, updated_at
	`,
		item.Name,
		item.Description,
		item.ContentURL,
		item.Price,
		item.OwnerAddress,
		item.ForSale,
		string(item.MintState),
	)
	return row.Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
}

const itemColumns = `
	i.id, i.name, i.description, i.content_url, i.price, i.owner_address,
	i.for_sale, i.mint_state, i.nft_id, i.created_at, i.updated_at,
	n.id, n.token_id, n.cid, n.ipfs_url, n.receipt_id, n.created_at
`

func scanItem(row pgx.Row) (model.Item, error) {
	var (
		item model.Item
		nft  model.NFT

		nftID        *int64
		nftTokenID   *string
		nftCID       *string
		nftIPFSURL   *string
		nftReceiptID *int64
		nftCreatedAt *time.Time
	)
	err := row.Scan(
		&item.ID, &item.Name, &item.Description, &item.ContentURL, &item.Price,
		&item.OwnerAddress, &item.ForSale, &item.MintState, &item.NFTID,
		&item.CreatedAt, &item.UpdatedAt,
		&nftID, &nftTokenID, &nftCID, &nftIPFSURL, &nftReceiptID, &nftCreatedAt,
	)
	if err != nil {
		return model.Item{}, err
	}
	if nftID != nil {
		nft.ID = *nftID
		if nftTokenID != nil {
			nft.TokenID = *nftTokenID
		}
		if nftCID != nil {
			nft.CID = *nftCID
		}
		if nftIPFSURL != nil {
			nft.IPFSURL = *nftIPFSURL
		}
		if nftReceiptID != nil {
			nft.ReceiptID = *nftReceiptID
		}
		if nftCreatedAt != nil {
			nft.CreatedAt = *nftCreatedAt
		}
		item.NFT = &nft
	}
	return item, nil
}

// Item loads one item with its NFT, when minted.
func (s *Store) Item(ctx context.Context, id int64) (model.Item, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM items i
		LEFT JOIN nfts n ON n.id = i.nft_id
		WHERE i.id = $1
	`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Item{}, ErrNotFound
		}
		return model.Item{}, err
	}
	return item, nil
}

// Items lists items, newest first.
func (s *Store) Items(ctx context.Context) ([]model.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM items i
		LEFT JOIN nfts n ON n.id = i.nft_id
		ORDER BY i.id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SetMintState advances the item's mint pipeline state.
func (s *Store) SetMintState(ctx context.Context, itemID int64, state model.MintState) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items SET mint_state = $2, updated_at = now() WHERE id = $1
	`, itemID, string(state))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSale flips the item's sale flag and price.
func (s *Store) UpdateSale(ctx context.Context, itemID int64, forSale bool, price string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items SET for_sale = $2, price = $3, updated_at = now() WHERE id = $1
	`, itemID, forSale, price)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateOwner records the item's new owner and clears the sale flag.
func (s *Store) UpdateOwner(ctx context.Context, itemID int64, owner string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE items SET owner_address = $2, for_sale = false, updated_at = now() WHERE id = $1
	`, itemID, owner)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveTradeReceipt records the receipt of a non-mint marketplace action.
// Inserts are idempotent on the transaction hash.
func (s *Store) SaveTradeReceipt(ctx context.Context, receipt model.Receipt) error {
	_, err := s.pool.Exec(ctx, insertReceiptSQL,
		receipt.TransactionHash, receipt.BlockHash, receipt.BlockNumber,
		int64(receipt.Status), int64(receipt.GasUsed),
	)
	return err
}

// ReceiptByHash loads a persisted receipt.
func (s *Store) ReceiptByHash(ctx context.Context, hash string) (model.Receipt, error) {
	var (
		receipt model.Receipt
		status  int64
		gasUsed int64
	)
	row := s.pool.QueryRow(ctx, `
		SELECT tx_hash, block_hash, block_number, status, gas_used
		FROM transaction_receipts WHERE tx_hash = $1
	`, hash)
	if err := row.Scan(&receipt.TransactionHash, &receipt.BlockHash, &receipt.BlockNumber, &status, &gasUsed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Receipt{}, ErrNotFound
		}
		return model.Receipt{}, err
	}
	receipt.Status = uint64(status)
	receipt.GasUsed = uint64(gasUsed)
	return receipt, nil
}

const insertReceiptSQL = `
	INSERT INTO transaction_receipts (tx_hash, block_hash, block_number, status, gas_used, created_at)
	VALUES ($1, $2, $3, $4, $5, now())
	ON CONFLICT (tx_hash) DO UPDATE SET
		block_hash = EXCLUDED.block_hash,
		block_number = EXCLUDED.block_number,
		status = EXCLUDED.status,
		gas_used = EXCLUDED.gas_used
	RETURNING id
`

// CommitMint atomically records the NFT, its receipt, and the item link.
// Either all three writes land or none do; a partially-linked item is
// never visible. The receipt insert is idempotent on tx_hash, so a
// replayed reconciliation cannot double-write.
func (s *Store) CommitMint(ctx context.Context, itemID int64, tokenID, cid, ipfsURL string, receipt model.Receipt) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mint commit: %w", err)
	}
	defer tx.Rollback(ctx)

	var receiptID int64
	row := tx.QueryRow(ctx, insertReceiptSQL,
		receipt.TransactionHash, receipt.BlockHash, receipt.BlockNumber,
		int64(receipt.Status), int64(receipt.GasUsed),
	)
	if err := row.Scan(&receiptID); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}

	var nftID int64
	row = tx.QueryRow(ctx, `
		INSERT INTO nfts (token_id, cid, ipfs_url, receipt_id, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id
	`, tokenID, cid, ipfsURL, receiptID)
	if err := row.Scan(&nftID); err != nil {
		return fmt.Errorf("write nft: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE items SET nft_id = $2, mint_state = $3, updated_at = now()
		WHERE id = $1 AND nft_id IS NULL
	`, itemID, nftID, string(model.MintStateMinted))
	if err != nil {
		return fmt.Errorf("link item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("link item %d: missing or already minted", itemID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mint: %w", err)
	}
	return nil
}
