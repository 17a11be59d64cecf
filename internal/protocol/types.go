package protocol

import "time"

type AddMembershipRequest struct {
	MemberID string  `json:"member_id"`
	Status   string  `json:"status"`
	Expiry   *string `json:"expiry"`
}

type AddMembershipResponse struct {
	Message string `json:"message"`
	Block   Block  `json:"block"`
}

type VerifyMembershipResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Outcome string `json:"outcome"`
}

type ChainValidResponse struct {
	Valid       bool   `json:"valid"`
	Length      int    `json:"length"`
	FailedIndex *int64 `json:"failed_index,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type HealthResponse struct {
	Service    string    `json:"service"`
	Version    string    `json:"version"`
	Status     string    `json:"status"`
	Issuer     string    `json:"issuer"`
	Length     int       `json:"length"`
	LatestHash string    `json:"latest_hash"`
	Time       time.Time `json:"time"`
}

// BlockEvent is published after every successful append.
type BlockEvent struct {
	Type        string    `json:"type"`
	Issuer      string    `json:"issuer"`
	Block       Block     `json:"block"`
	PublishedAt time.Time `json:"published_at"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}
