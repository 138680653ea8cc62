package model

type RowOutcome string

const (
	RowCreated RowOutcome = "created"
	RowUpdated RowOutcome = "updated"
	RowFailed  RowOutcome = "failed"
	RowSkipped RowOutcome = "skipped"
)

// ImportRowResult is the immutable outcome of one spreadsheet row.
type ImportRowResult struct {
	Outcome   RowOutcome `json:"outcome"`
	Row       int        `json:"row"`
	PatientID string     `json:"patient_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// ImportReport aggregates one import run.
type ImportReport struct {
	Created int               `json:"created"`
	Updated int               `json:"updated"`
	Failed  int               `json:"failed"`
	Skipped int               `json:"skipped"`
	Errors  []string          `json:"errors"`
	Rows    []ImportRowResult `json:"rows,omitempty"`
}

// Success counts rows that reached the store.
func (r *ImportReport) Success() int {
	return r.Created + r.Updated
}
