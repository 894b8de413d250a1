package models

import "time"

// SnapshotRecord is one compressed full-state backup of the local store, held
// in the remote store's append-only snapshot table. Records are never mutated;
// restore always selects the most recent one and old records are pruned by age.
type SnapshotRecord struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	SourceInstance string    `json:"source_instance"`
	TablesIncluded []string  `json:"tables_included"`
	Payload        []byte    `json:"payload"`
}
