// Package ids defines the opaque, type-distinguished identifiers used
// throughout the coordinator. All identifiers are 128-bit values; wrapping
// each entity kind in its own named type lets the compiler reject a
// WorkerID passed where a JobID is expected.
package ids

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID is the underlying 128-bit opaque value shared by every identifier
// kind. Entity-specific types below are distinct Go types wrapping ID so
// they cannot be interchanged by the compiler.
type ID uuid.UUID

// Empty is the zero value of ID, used as a not-set sentinel.
var Empty ID

// String renders the canonical UUID text form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsEmpty reports whether id is the zero value.
func (id ID) IsEmpty() bool {
	return id == Empty
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return fmt.Errorf("ids: parse: %w", err)
	}
	*id = ID(u)
	return nil
}

// Value implements driver.Valuer for the persistence interface (§6).
func (id ID) Value() (driver.Value, error) {
	if id.IsEmpty() {
		return nil, nil
	}
	return id.String(), nil
}

func newID() ID {
	return ID(uuid.New())
}

// JobID identifies a Job end-to-end from submission to terminal state.
type JobID ID

func NewJobID() JobID      { return JobID(newID()) }
func (id JobID) String() string { return ID(id).String() }
func (id JobID) IsEmpty() bool  { return ID(id).IsEmpty() }
func (id JobID) MarshalText() ([]byte, error) { return ID(id).MarshalText() }
func (id *JobID) UnmarshalText(text []byte) error { return (*ID)(id).UnmarshalText(text) }

// ParseJobID parses the canonical UUID text form produced by JobID.String.
func ParseJobID(s string) (JobID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return JobID{}, fmt.Errorf("ids: parse job id: %w", err)
	}
	return JobID(u), nil
}

// WorkerID identifies a compute-providing peer.
type WorkerID ID

func NewWorkerID() WorkerID      { return WorkerID(newID()) }
func (id WorkerID) String() string { return ID(id).String() }
func (id WorkerID) IsEmpty() bool  { return ID(id).IsEmpty() }
func (id WorkerID) MarshalText() ([]byte, error) { return ID(id).MarshalText() }
func (id *WorkerID) UnmarshalText(text []byte) error { return (*ID)(id).UnmarshalText(text) }

// ParseWorkerID parses the canonical UUID text form produced by WorkerID.String.
func ParseWorkerID(s string) (WorkerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return WorkerID{}, fmt.Errorf("ids: parse worker id: %w", err)
	}
	return WorkerID(u), nil
}

// NodeID identifies a peer on the gossip overlay, independent of whether
// that peer currently advertises worker capabilities.
type NodeID ID

func NewNodeID() NodeID      { return NodeID(newID()) }
func (id NodeID) String() string { return ID(id).String() }

// TaskID identifies a unit of execution dispatched to the AI runtime.
type TaskID ID

func NewTaskID() TaskID { return TaskID(newID()) }

// AuctionID identifies a bounded bid-collection window for one Job.
type AuctionID ID

func NewAuctionID() AuctionID      { return AuctionID(newID()) }
func (id AuctionID) String() string { return ID(id).String() }
func (id AuctionID) MarshalText() ([]byte, error) { return ID(id).MarshalText() }
func (id *AuctionID) UnmarshalText(text []byte) error { return (*ID)(id).UnmarshalText(text) }

// AssignmentID identifies one attempt at assigning a Job to a Worker; a
// reassigned Job has a new AssignmentID per attempt.
type AssignmentID ID

func NewAssignmentID() AssignmentID { return AssignmentID(newID()) }
func (id AssignmentID) String() string { return ID(id).String() }
func (id AssignmentID) MarshalText() ([]byte, error) { return ID(id).MarshalText() }
func (id *AssignmentID) UnmarshalText(text []byte) error { return (*ID)(id).UnmarshalText(text) }

// ResultID identifies one WorkerResult submission.
type ResultID ID

func NewResultID() ResultID { return ResultID(newID()) }
func (id ResultID) String() string { return ID(id).String() }
func (id ResultID) MarshalText() ([]byte, error) { return ID(id).MarshalText() }
func (id *ResultID) UnmarshalText(text []byte) error { return (*ID)(id).UnmarshalText(text) }
