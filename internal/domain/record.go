package domain

// Record is one row of a Bitable table, with its field values still in
// wire shape. Attachment extraction interprets the values it cares about.
type Record struct {
	ID     string         `json:"record_id"`
	Fields map[string]any `json:"fields"`
}

// Table describes one table inside a Bitable app.
type Table struct {
	ID   string `json:"table_id"`
	Name string `json:"name"`
}
