package model

// Receipt is the normalized network confirmation for an included
// transaction. BlockNumber is kept as a decimal string to avoid
// precision loss once persisted.
type Receipt struct {
	TransactionHash string `json:"transaction_hash"`
	BlockHash       string `json:"block_hash"`
	BlockNumber     string `json:"block_number"`
	Status          uint64 `json:"status"`
	GasUsed         uint64 `json:"gas_used"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r Receipt) Succeeded() bool {
	return r.Status == 1
}
