package records

import (
	"fmt"
	"strings"
	"time"
)

// Partition tags which time window a record was observed in
type Partition string

const (
	PartitionToday       Partition = "today"
	PartitionLastWeekday Partition = "last_weekday"
)

// Status is the canonical processing status of an ingested file
type Status string

const (
	StatusProcessed Status = "processed"
	StatusEmpty     Status = "empty"
	StatusFailure   Status = "failure"
	StatusStopped   Status = "stopped"
	StatusDeleted   Status = "deleted"
	StatusPending   Status = "pending"
)

// Statuses lists the canonical vocabulary in the order reports print it
var Statuses = []Status{
	StatusProcessed, StatusEmpty, StatusFailure, StatusStopped, StatusDeleted, StatusPending,
}

// historical spellings seen in listings and older tooling
var statusAliases = map[string]Status{
	"processed": StatusProcessed,
	"success":   StatusProcessed,
	"succeeded": StatusProcessed,
	"empty":     StatusEmpty,
	"failure":   StatusFailure,
	"failed":    StatusFailure,
	"error":     StatusFailure,
	"stopped":   StatusStopped,
	"stop":      StatusStopped,
	"deleted":   StatusDeleted,
	"removed":   StatusDeleted,
	"pending":   StatusPending,
	"queued":    StatusPending,
}

// NormalizeStatus maps a raw status onto the canonical vocabulary.
// ok is false when raw is not a known spelling; the lowercased value is returned then.
func NormalizeStatus(raw string) (Status, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if s, ok := statusAliases[v]; ok {
		return s, true
	}
	return Status(v), false
}

// FileRecord is one observation of an uploaded file
type FileRecord struct {
	SourceID      string    `json:"source_id"`
	Filename      string    `json:"filename"`
	Rows          int64     `json:"rows"`
	Status        Status    `json:"status"`
	IsDuplicated  bool      `json:"is_duplicated"`
	FileSize      *float64  `json:"file_size"`
	UploadedAt    time.Time `json:"uploaded_at"`
	StatusMessage *string   `json:"status_message"`
	Partition     Partition `json:"partition"`
	// QualityIssue is set only by lenient loads for records that failed validation
	QualityIssue *string `json:"quality_issue,omitempty"`
}

// Tag returns copies of recs carrying partition p, preserving order
func Tag(recs []FileRecord, p Partition) []FileRecord {
	out := make([]FileRecord, len(recs))
	for i, r := range recs {
		r.Partition = p
		out[i] = r
	}
	return out
}

// Defect describes why a record failed validation
type Defect struct {
	Index    int
	Filename string
	Reasons  []string
}

func (d Defect) String() string {
	return fmt.Sprintf("record %d (%s): %s", d.Index, d.Filename, strings.Join(d.Reasons, "; "))
}
