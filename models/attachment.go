package models

// Attachment describes a blob stored for an image or audio message.
type Attachment struct {
	Ref          string      `json:"ref"`
	Kind         MessageKind `json:"kind"`
	OriginalName string      `json:"original_name"`
	Size         int64       `json:"size"`
	Checksum     string      `json:"checksum"`
	StoredAt     int64       `json:"stored_at"`
}
