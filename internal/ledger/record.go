// Package ledger provides the tamper-evident audit ledger for stockguard.
// Every security-relevant operation is appended as a hash-chained record:
// each record's integrity hash covers its own fields plus the previous
// record's hash, so retroactive modification of any stored record is
// detectable by re-walking the chain.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"stockguard/internal/schema"
)

// GenesisHash is the predecessor hash of the first record in the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Record is a single audit ledger entry. Records are immutable once written.
type Record struct {
	// ID is the monotonic sequence number, assigned by the ledger on append.
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Actor information
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name,omitempty"`

	// What happened to what
	Action     schema.Action     `json:"action"`
	EntityKind schema.EntityKind `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`

	// Optional state snapshots, serialized JSON
	PriorState string `json:"prior_state,omitempty"`
	NewState   string `json:"new_state,omitempty"`

	// Request origin
	ClientAddr string `json:"client_addr,omitempty"`
	Device     string `json:"device,omitempty"`
	Location   string `json:"location,omitempty"`

	// Stock accounting
	StockBefore int64 `json:"stock_before"`
	StockAfter  int64 `json:"stock_after"`
	Quantity    int64 `json:"quantity"`

	Reason     string `json:"reason,omitempty"`
	ApproverID string `json:"approver_id,omitempty"`

	// Chain integrity
	Hash     string `json:"hash"`
	PrevHash string `json:"prev_hash"`
}

// Entry carries the caller-supplied fields of a record to append.
// The ledger assigns the sequence id and both hashes.
type Entry struct {
	Timestamp   time.Time
	ActorID     string
	ActorName   string
	Action      schema.Action
	EntityKind  schema.EntityKind
	EntityID    string
	PriorState  string
	NewState    string
	ClientAddr  string
	Device      string
	Location    string
	StockBefore int64
	StockAfter  int64
	Quantity    int64
	Reason      string
	ApproverID  string
}

// hashPayload fixes the canonical field order for hash computation.
// Field order must never change: the stored chain depends on it.
type hashPayload struct {
	ID          uint64 `json:"id"`
	Timestamp   string `json:"timestamp"`
	ActorID     string `json:"actor_id"`
	ActorName   string `json:"actor_name"`
	Action      string `json:"action"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id"`
	PriorState  string `json:"prior_state"`
	NewState    string `json:"new_state"`
	ClientAddr  string `json:"client_addr"`
	Device      string `json:"device"`
	Location    string `json:"location"`
	StockBefore int64  `json:"stock_before"`
	StockAfter  int64  `json:"stock_after"`
	Quantity    int64  `json:"quantity"`
	Reason      string `json:"reason"`
	ApproverID  string `json:"approver_id"`
	PrevHash    string `json:"prev_hash"`
}

// computeHash computes the integrity hash of a record chained off prevHash.
// Every field except the hashes participates; prevHash is the STORED hash of
// the preceding record (or GenesisHash for the first record).
func computeHash(r *Record, prevHash string) string {
	payload := hashPayload{
		ID:          r.ID,
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339Nano),
		ActorID:     r.ActorID,
		ActorName:   r.ActorName,
		Action:      string(r.Action),
		EntityKind:  string(r.EntityKind),
		EntityID:    r.EntityID,
		PriorState:  r.PriorState,
		NewState:    r.NewState,
		ClientAddr:  r.ClientAddr,
		Device:      r.Device,
		Location:    r.Location,
		StockBefore: r.StockBefore,
		StockAfter:  r.StockAfter,
		Quantity:    r.Quantity,
		Reason:      r.Reason,
		ApproverID:  r.ApproverID,
		PrevHash:    prevHash,
	}

	// Marshal cannot fail for a struct of strings and integers.
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
