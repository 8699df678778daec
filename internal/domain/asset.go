package domain

import "fmt"

// Asset identifies one remote attachment extracted from a Bitable record.
// Assets are created once during extraction and read-only afterwards.
// Identity within a batch is (RecordID, FieldName, Index).
type Asset struct {
	RecordID  string `json:"record_id"`
	ProductID string `json:"product_id"`
	FieldName string `json:"field_name"`
	Index     int    `json:"index"`
	FileToken string `json:"file_token"`
	FileName  string `json:"file_name"`
	Size      int64  `json:"size"`
	MIMEType  string `json:"mime_type"`
}

// Key returns the asset's identity, used by the aggregator to enforce
// exactly-once recording.
func (a Asset) Key() string {
	return fmt.Sprintf("%s/%s/%d", a.RecordID, a.FieldName, a.Index)
}
