package field

// Key identifies one field of one record. It is comparable and used as a
// map key throughout the engine.
type Key struct {
	RecordID string `json:"record_id"`
	Field    string `json:"field"`
}

// NewKey builds a Key.
func NewKey(recordID, field string) Key {
	return Key{RecordID: recordID, Field: field}
}

// String renders the key as "record/field".
func (k Key) String() string {
	return k.RecordID + "/" + k.Field
}
