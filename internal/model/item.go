package model

import "time"

// MintState tracks where an item sits in the minting pipeline.
type MintState string

const (
	MintStateCreated       MintState = "CREATED"
	MintStateQueuedRequest MintState = "QUEUED_FOR_MINT_REQUEST"
	MintStateQueuedMint    MintState = "QUEUED_FOR_MINT"
	MintStateMinting       MintState = "MINTING"
	MintStateMinted        MintState = "MINTED"
	MintStateFailed        MintState = "MINT_FAILED"
)

// Item is a marketplace listing. NFTID stays nil until the mint for the
// item is confirmed on chain.
type Item struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	ContentURL   string    `json:"content_url"`
	Price        string    `json:"price"`
	OwnerAddress string    `json:"owner_address"`
	ForSale      bool      `json:"for_sale"`
	MintState    MintState `json:"mint_state"`
	NFTID        *int64    `json:"nft_id,omitempty"`
	NFT          *NFT      `json:"nft,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ItemMetadata is the snapshot of item fields carried inside a mint job
// and pinned off-chain.
type ItemMetadata struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	ContentURL      string   `json:"content_url"`
	Price           string   `json:"price"`
	Image           []byte   `json:"image,omitempty"`
	ImageName       string   `json:"image_name,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	BackgroundColor string   `json:"background_color,omitempty"`
	ExternalSite    string   `json:"external_site,omitempty"`
}
