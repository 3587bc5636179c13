package persist

// FieldWrite is the PATCH request body.
type FieldWrite struct {
	Value any `json:"value"`
}

// FieldWriteResult is the PATCH response body.
type FieldWriteResult struct {
	OK       bool   `json:"ok"`
	Version  int64  `json:"version,omitempty"`
	Error    string `json:"error,omitempty"`
	Category string `json:"category,omitempty"`
}

// ErrorBody is returned with every non-2xx status.
type ErrorBody struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// RecordBody is the GET record response and the create request body.
type RecordBody struct {
	ID       string           `json:"id"`
	Fields   map[string]any   `json:"fields"`
	Versions map[string]int64 `json:"versions,omitempty"`
}
