package model

import (
	"slices"
	"time"
)

// Specification describes one unit of background work. Concrete kinds embed
// BaseSpecification and add their own parameters.
type Specification interface {
	// Kind is the discriminant used to look up the runner.
	Kind() string
	GUID() string
	SetGUID(guid string)
	// OwnerNickname is empty for system jobs.
	OwnerNickname() string
	// SuppliedDataGUIDs lists the input blobs the job will consume.
	SuppliedDataGUIDs() []string
	// TimeToLive overrides the retention window after the job becomes
	// terminal. Zero means the engine default.
	TimeToLive() time.Duration
	// Equivalent is the coalescing relation: true iff other is the same
	// kind with the same significant parameters.
	Equivalent(other Specification) bool
}

// BaseSpecification carries the fields common to every specification.
type BaseSpecification struct {
	ID    string        `json:"guid,omitempty"`
	Owner string        `json:"owner_user_nickname,omitempty"`
	TTL   time.Duration `json:"-"`
}

func (b *BaseSpecification) GUID() string              { return b.ID }
func (b *BaseSpecification) SetGUID(guid string)       { b.ID = guid }
func (b *BaseSpecification) OwnerNickname() string     { return b.Owner }
func (b *BaseSpecification) TimeToLive() time.Duration { return b.TTL }
func (b *BaseSpecification) SuppliedDataGUIDs() []string {
	return nil
}

// SameBase reports whether a and b share kind and owner, the preconditions
// every kind-specific Equivalent check starts from.
func SameBase(a, b Specification) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Kind() == b.Kind() && a.OwnerNickname() == b.OwnerNickname()
}

// Snapshot is a point-in-time copy of one job's state. Callers receive
// snapshots by value and mutating one has no effect on the engine.
type Snapshot struct {
	GUID               string     `json:"guid"`
	Kind               string     `json:"kind"`
	Status             Status     `json:"status"`
	OwnerNickname      string     `json:"owner_user_nickname,omitempty"`
	QueuedAt           time.Time  `json:"queued_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
	ProgressPercent    *int       `json:"progress_percent,omitempty"`
	SuppliedDataGUIDs  []string   `json:"supplied_data_guids"`
	GeneratedDataGUIDs []string   `json:"generated_data_guids"`
	FailureMessage     string     `json:"failure_message,omitempty"`
	CancelRequested    bool       `json:"cancel_requested,omitempty"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		c.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	if s.ProgressPercent != nil {
		p := *s.ProgressPercent
		c.ProgressPercent = &p
	}
	c.SuppliedDataGUIDs = slices.Clone(s.SuppliedDataGUIDs)
	c.GeneratedDataGUIDs = slices.Clone(s.GeneratedDataGUIDs)
	if c.SuppliedDataGUIDs == nil {
		c.SuppliedDataGUIDs = []string{}
	}
	if c.GeneratedDataGUIDs == nil {
		c.GeneratedDataGUIDs = []string{}
	}
	return c
}

// OwnsData reports whether guid is one of the job's supplied or generated blobs.
func (s Snapshot) OwnsData(guid string) bool {
	return slices.Contains(s.SuppliedDataGUIDs, guid) || slices.Contains(s.GeneratedDataGUIDs, guid)
}
