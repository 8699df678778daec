package domain

// Result is the outcome of one asset download. Exactly one Result is
// produced per submitted Asset, success or failure, and it is immutable
// once recorded.
type Result struct {
	Asset        Asset     `json:"asset"`
	Success      bool      `json:"success"`
	LocalPath    string    `json:"local_path,omitempty"`
	Kind         ErrorKind `json:"error_kind,omitempty"`
	Message      string    `json:"error_message,omitempty"`
	BytesWritten int64     `json:"bytes_written"`
	Attempts     int       `json:"attempts"`
}

// FieldTally counts outcomes for one attachment field.
type FieldTally struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
}

// Report is the finalized, read-only summary of a batch.
// Total == Succeeded + Failed always holds.
type Report struct {
	Total     int                   `json:"total"`
	Succeeded int                   `json:"succeeded"`
	Failed    int                   `json:"failed"`
	Fields    map[string]FieldTally `json:"fields"`
	Results   []Result              `json:"results"`
}
