package model

import "time"

// NFT is the on-chain token record created exactly once per successful
// mint, linked 1:1 to its receipt and to the originating item.
type NFT struct {
	ID        int64     `json:"id"`
	TokenID   string    `json:"token_id"`
	CID       string    `json:"cid"`
	IPFSURL   string    `json:"ipfs_url"`
	ReceiptID int64     `json:"receipt_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Account is a durable address/private-key pair. The key is only read
// for the duration of a single signing operation.
type Account struct {
	Address    string    `json:"address"`
	PrivateKey string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
