package detector

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus tracks the lifecycle of a supervisor approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

var (
	// ErrApprovalNotFound indicates an unknown approval id.
	ErrApprovalNotFound = errors.New("detector: approval not found")

	// ErrApprovalDecided indicates the approval was already decided.
	ErrApprovalDecided = errors.New("detector: approval already decided")
)

// Approval is a pending supervisor decision created by containment.
type Approval struct {
	ID        uuid.UUID      `json:"id"`
	AlertID   int64          `json:"alert_id"`
	AlertKind Kind           `json:"alert_kind"`
	ActorID   string         `json:"actor_id"`
	ActorName string         `json:"actor_name"`
	Device    string         `json:"device,omitempty"`
	Location  string         `json:"location,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Status    ApprovalStatus `json:"status"`
	DecidedBy string         `json:"decided_by,omitempty"`
	DecidedAt *time.Time     `json:"decided_at,omitempty"`
}

// Approvals is the in-memory supervisor approval queue.
type Approvals struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Approval
	now   func() time.Time
}

// NewApprovals creates an empty approval queue.
func NewApprovals() *Approvals {
	return &Approvals{
		items: make(map[uuid.UUID]*Approval),
		now:   time.Now,
	}
}

// Create opens a pending approval for a containment alert.
func (q *Approvals) Create(alert *Alert, device, location string) *Approval {
	a := &Approval{
		ID:        uuid.New(),
		AlertID:   alert.ID,
		AlertKind: alert.Kind,
		ActorID:   alert.ActorID,
		ActorName: alert.ActorName,
		Device:    device,
		Location:  location,
		CreatedAt: q.now(),
		Status:    ApprovalPending,
	}

	q.mu.Lock()
	q.items[a.ID] = a
	q.mu.Unlock()

	return a
}

// Pending returns undecided approvals, oldest first.
func (q *Approvals) Pending() []*Approval {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*Approval
	for _, a := range q.items {
		if a.Status == ApprovalPending {
			copied := *a
			pending = append(pending, &copied)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].AlertID < pending[j].AlertID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}

// Get returns a copy of one approval.
func (q *Approvals) Get(id uuid.UUID) (*Approval, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.items[id]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	copied := *a
	return &copied, nil
}

// decide transitions a pending approval. Decided approvals stay in the
// queue for audit trails but cannot be decided twice.
func (q *Approvals) decide(id uuid.UUID, approve bool, supervisor string) (*Approval, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, ok := q.items[id]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	if a.Status != ApprovalPending {
		return nil, ErrApprovalDecided
	}

	now := q.now()
	if approve {
		a.Status = ApprovalApproved
	} else {
		a.Status = ApprovalRejected
	}
	a.DecidedBy = supervisor
	a.DecidedAt = &now

	copied := *a
	return &copied, nil
}
