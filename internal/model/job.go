package model

import (
	"encoding/json"
)

// Job kinds for the mint pipeline queues.
const (
	JobKindMint     = "mint"
	JobKindMintBulk = "mint_bulk"
)

// MintJob is the unit of work flowing through the two-stage queue.
// Stage 1 accepts the job as enqueued by the API; stage 2 receives it
// unchanged apart from Stage.
type MintJob struct {
	ID       string       `json:"id"`
	Kind     string       `json:"kind"`
	Stage    int          `json:"stage"`
	ItemID   int64        `json:"item_id"`
	ItemIDs  []int64      `json:"item_ids,omitempty"`
	Metadata ItemMetadata `json:"metadata"`
	Attempt  int          `json:"attempt"`
	Reason   string       `json:"reason,omitempty"`
}

// EncodeJob serializes a job for the queue broker.
func EncodeJob(job MintJob) ([]byte, error) {
	return json.Marshal(job)
}

// DecodeJob deserializes a job from the queue broker.
func DecodeJob(data []byte) (MintJob, error) {
	var job MintJob
	if err := json.Unmarshal(data, &job); err != nil {
		return MintJob{}, err
	}
	return job, nil
}
