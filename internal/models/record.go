package models

import "time"

// StoredRecord is a guarded record at rest. Payload is the JSON form of
// records.Record with sensitive fields already encrypted.
type StoredRecord struct {
	ID              string
	OwnerID         string
	Payload         []byte
	IntegrityDigest string
	LastModified    time.Time
}

// Document describes a blob attached to a record. The bytes themselves live
// in object storage under StorageKey.
type Document struct {
	ID          string    `json:"id"`
	RecordID    string    `json:"recordId"`
	OwnerID     string    `json:"ownerId"`
	StorageKey  string    `json:"-"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}
