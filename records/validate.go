package records

import (
	"fmt"
	"strings"
)

// Problems returns every rule the record breaks, normalizing its status in place.
// An empty result means the record is valid.
func (r *FileRecord) Problems() []string {
	var problems []string

	status, known := NormalizeStatus(string(r.Status))
	r.Status = status
	if !known {
		problems = append(problems, fmt.Sprintf("unknown status %q", status))
	}
	if r.Filename == "" {
		problems = append(problems, "missing filename")
	}
	if r.Rows < 0 {
		problems = append(problems, fmt.Sprintf("negative rows %d", r.Rows))
	}
	if r.FileSize != nil && *r.FileSize < 0 {
		problems = append(problems, fmt.Sprintf("negative file_size %g", *r.FileSize))
	}
	if status == StatusEmpty && r.FileSize != nil {
		problems = append(problems, "empty file carries a file_size")
	}
	if status == StatusProcessed && r.Rows > 0 && r.FileSize == nil {
		problems = append(problems, "processed file with rows has no file_size")
	}
	if r.UploadedAt.IsZero() {
		problems = append(problems, "missing uploaded_at")
	}
	return problems
}

// Validate normalizes and checks recs, returning the normalized copies and every defect.
// With lenient set, offending records keep their place and carry QualityIssue;
// otherwise callers are expected to reject the batch when defects is non-empty.
func Validate(recs []FileRecord, lenient bool) ([]FileRecord, []Defect) {
	out := make([]FileRecord, len(recs))
	var defects []Defect
	for i := range recs {
		r := recs[i]
		if problems := r.Problems(); len(problems) > 0 {
			defects = append(defects, Defect{Index: i, Filename: r.Filename, Reasons: problems})
			if lenient {
				issue := strings.Join(problems, "; ")
				r.QualityIssue = &issue
			}
		}
		out[i] = r
	}
	return out, defects
}
