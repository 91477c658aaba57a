package schemas

import (
	"time"
)

type Lead struct {
	FirstName    string    `json:"first_name,omitempty" bson:"first_name"`
	LastName     string    `json:"last_name,omitempty" bson:"last_name"`
	Email        string    `json:"email,omitempty" bson:"email"`
	Phone        string    `json:"phone,omitempty" bson:"phone"`
	AdvisorName  string    `json:"advisor_name,omitempty" bson:"advisor_name"`
	Path         string    `json:"path,omitempty" bson:"path"`
	Feedback     string    `json:"feedback,omitempty" bson:"feedback"`
	FollowupDate string    `json:"followup_date,omitempty" bson:"followup_date"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
}

// LeadRow is a lead as stored in a sheet tab. ID is the store's own row
// identity and is preserved across updates.
type LeadRow struct {
	ID   string `json:"id"`
	Lead Lead   `json:"lead"`
}

type SheetTarget struct {
	SheetID string `json:"sheet_id"`
	Tab     string `json:"tab"`
}

type PersistStatus string

const (
	PersistCreated PersistStatus = "created"
	PersistUpdated PersistStatus = "updated"
	PersistSkipped PersistStatus = "skipped"
	PersistError   PersistStatus = "error"
)

type PersistResult struct {
	Status PersistStatus `json:"status"`
	RowID  string        `json:"row_id,omitempty"`
	Key    string        `json:"key,omitempty"`
	Seq    uint64        `json:"seq,omitempty"`
	Err    error         `json:"-"`
}

func (r PersistResult) Failed() bool {
	return r.Status == PersistError
}
