// Package schema defines the canonical movement event for stockguard.
// Every inventory operation entering the trust layer is normalized to this
// structure before it is audited and analyzed.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Action identifies the kind of operation a movement represents.
type Action string

const (
	ActionEntry    Action = "ENTRY"
	ActionExit     Action = "EXIT"
	ActionModify   Action = "MODIFY"
	ActionDelete   Action = "DELETE"
	ActionLogin    Action = "LOGIN"
	ActionLogout   Action = "LOGOUT"
	ActionApproval Action = "APPROVAL"
)

// IsValid checks if the action is a known value.
func (a Action) IsValid() bool {
	switch a {
	case ActionEntry, ActionExit, ActionModify, ActionDelete,
		ActionLogin, ActionLogout, ActionApproval:
		return true
	}
	return false
}

// IsStockMovement reports whether the action moves stock.
func (a Action) IsStockMovement() bool {
	return a == ActionEntry || a == ActionExit
}

// EntityKind identifies what kind of entity a movement touches.
type EntityKind string

const (
	EntityProduct       EntityKind = "PRODUCT"
	EntityUser          EntityKind = "USER"
	EntityConfiguration EntityKind = "CONFIGURATION"
)

// IsValid checks if the entity kind is a known value.
func (k EntityKind) IsValid() bool {
	switch k {
	case EntityProduct, EntityUser, EntityConfiguration:
		return true
	}
	return false
}

// Movement represents a single inventory operation.
type Movement struct {
	// Required fields
	EventID    uuid.UUID  `json:"event_id" validate:"required"`
	Timestamp  time.Time  `json:"timestamp" validate:"required"`
	ActorID    string     `json:"actor_id" validate:"required,max=128"`
	ActorName  string     `json:"actor_name,omitempty" validate:"max=256"`
	Action     Action     `json:"action" validate:"required,oneof=ENTRY EXIT MODIFY DELETE LOGIN LOGOUT APPROVAL"`
	EntityKind EntityKind `json:"entity_kind" validate:"required,oneof=PRODUCT USER CONFIGURATION"`
	EntityID   string     `json:"entity_id" validate:"required,entity_code,max=128"`

	// Stock accounting (ENTRY/EXIT only)
	Quantity    int64 `json:"quantity" validate:"min=0,max=1000000"`
	StockBefore int64 `json:"stock_before,omitempty"`
	StockAfter  int64 `json:"stock_after,omitempty"`

	// Origin of the request
	ClientAddr string `json:"client_addr,omitempty" validate:"max=45"`
	Device     string `json:"device,omitempty" validate:"max=200"`
	Location   string `json:"location,omitempty" validate:"omitempty,location_format,max=200"`

	// Optional state snapshots, serialized by the caller
	PriorState string `json:"prior_state,omitempty"`
	NewState   string `json:"new_state,omitempty"`

	Reason     string `json:"reason,omitempty" validate:"max=500"`
	ApproverID string `json:"approver_id,omitempty" validate:"max=128"`
}

// Withdrawal reports whether the movement takes stock out of inventory.
func (m *Movement) Withdrawal() bool {
	return m.Action == ActionExit
}
