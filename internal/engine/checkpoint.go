package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
	"gorm.io/gorm"
)

// snapshotTables are the local tables a backup captures, in restore order.
// The queue and identity mappings are included so a restored machine resumes
// the drain exactly where the lost one stopped. The product catalog is
// excluded: it is remote-authoritative and rebuilt by the next catalog pull.
var snapshotTables = []string{
	"clients",
	"cart_items",
	"quotes",
	"quote_items",
	"search_history",
	"change_entries",
	"identity_mappings",
}

const restoreMarkerFile = ".restore_marker"

// snapshotDocument is the uncompressed snapshot payload layout.
type snapshotDocument struct {
	Version        int                                 `json:"version"`
	CreatedAt      time.Time                           `json:"created_at"`
	SourceInstance string                              `json:"source_instance"`
	Tables         map[string][]map[string]interface{} `json:"tables"`
}

// Checkpoint writes full-state backups of the local store into the remote
// snapshot table and replays them onto a fresh machine.
type Checkpoint struct {
	db         *database.DB
	remote     store.RemoteStore
	instanceID string
	dataDir    string
	retention  time.Duration
}

// NewCheckpoint creates a checkpoint manager
func NewCheckpoint(db *database.DB, remote store.RemoteStore, instanceID, dataDir string, retention time.Duration) *Checkpoint {
	return &Checkpoint{
		db:         db,
		remote:     remote,
		instanceID: instanceID,
		dataDir:    dataDir,
		retention:  retention,
	}
}

// Backup captures all durable local tables into one compressed snapshot and
// appends it to the remote snapshot table. Existing snapshots are never
// touched; old ones are pruned by age afterwards.
func (c *Checkpoint) Backup(ctx context.Context) (*models.SnapshotRecord, error) {
	doc := snapshotDocument{
		Version:        1,
		CreatedAt:      time.Now().UTC(),
		SourceInstance: c.instanceID,
		Tables:         make(map[string][]map[string]interface{}, len(snapshotTables)),
	}

	total := 0
	for _, table := range snapshotTables {
		var rows []map[string]interface{}
		if err := c.db.Table(table).Order("id ASC").Find(&rows).Error; err != nil {
			return nil, &LocalStoreError{Op: "snapshot read " + table, Err: err}
		}
		for _, row := range rows {
			normalizeRow(row)
		}
		doc.Tables[table] = rows
		total += len(rows)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}

	snap := &models.SnapshotRecord{
		ID:             uuid.NewString(),
		CreatedAt:      doc.CreatedAt,
		SourceInstance: c.instanceID,
		TablesIncluded: snapshotTables,
		Payload:        buf.Bytes(),
	}
	if err := c.remote.PutSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to upload snapshot: %w", err)
	}

	log.Printf("📦 Backup %s uploaded: %d rows across %d tables (%d bytes compressed)",
		snap.ID, total, len(snapshotTables), buf.Len())

	if c.retention > 0 {
		cutoff := time.Now().UTC().Add(-c.retention)
		if pruned, err := c.remote.PruneSnapshots(ctx, cutoff); err != nil {
			log.Printf("⚠️ Failed to prune old snapshots: %v", err)
		} else if pruned > 0 {
			log.Printf("🧹 Pruned %d snapshots older than %s", pruned, cutoff.Format(time.RFC3339))
		}
	}
	return snap, nil
}

// Restore replaces the local durable tables with the contents of a snapshot.
// An empty id selects the most recent snapshot; (false, nil) means there was
// nothing to restore from. The whole replacement runs in one transaction.
func (c *Checkpoint) Restore(ctx context.Context, id string) (bool, error) {
	var snap *models.SnapshotRecord
	var err error
	if id == "" {
		snap, err = c.remote.LatestSnapshot(ctx)
	} else {
		snap, err = c.remote.GetSnapshot(ctx, id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	if snap == nil {
		log.Println("📦 No snapshot available, nothing to restore")
		return false, nil
	}

	gz, err := gzip.NewReader(bytes.NewReader(snap.Payload))
	if err != nil {
		return false, fmt.Errorf("snapshot %s: corrupt payload: %w", snap.ID, err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		return false, fmt.Errorf("snapshot %s: corrupt payload: %w", snap.ID, err)
	}
	var doc snapshotDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return false, fmt.Errorf("snapshot %s: malformed document: %w", snap.ID, err)
	}

	log.Printf("🔄 Restoring snapshot %s (created %s by %s)...",
		snap.ID, snap.CreatedAt.Format(time.RFC3339), snap.SourceInstance)

	err = c.db.Transaction(func(tx *gorm.DB) error {
		// Clear children before parents so referential constraints hold while
		// live rows are being replaced; inserts then run parent-first.
		for i := len(snapshotTables) - 1; i >= 0; i-- {
			if err := tx.Exec("DELETE FROM " + snapshotTables[i]).Error; err != nil {
				return fmt.Errorf("failed to clear %s: %w", snapshotTables[i], err)
			}
		}
		for _, table := range snapshotTables {
			rows := doc.Tables[table]
			if len(rows) == 0 {
				continue
			}
			for _, row := range rows {
				reencodeRow(row)
			}
			if err := tx.Table(table).CreateInBatches(rows, 500).Error; err != nil {
				return fmt.Errorf("failed to load %s: %w", table, err)
			}
			if tx.Dialector.Name() == "postgres" {
				seq := fmt.Sprintf(
					"SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 1))",
					table, table)
				if err := tx.Exec(seq).Error; err != nil {
					return fmt.Errorf("failed to reset %s sequence: %w", table, err)
				}
			}
			log.Printf("  ✅ %s: %d rows", table, len(rows))
		}
		return nil
	})
	if err != nil {
		return false, &LocalStoreError{Op: "restore", Err: err}
	}

	if err := c.writeMarker(snap.ID); err != nil {
		log.Printf("⚠️ Failed to write restore marker: %v", err)
	}

	log.Printf("✅ Restore complete from snapshot %s", snap.ID)
	return true, nil
}

// RestoreOnStartup restores the latest snapshot only when the local store
// looks brand new: no earlier restore marker and no existing rows. This keeps
// a machine that already holds unsynced work from being overwritten.
func (c *Checkpoint) RestoreOnStartup(ctx context.Context) (bool, error) {
	if _, err := os.Stat(c.markerPath()); err == nil {
		log.Println("📦 Restore marker present, skipping startup restore")
		return false, nil
	}

	for _, table := range []string{"clients", "cart_items", "quotes", "change_entries"} {
		var count int64
		if err := c.db.Table(table).Count(&count).Error; err != nil {
			return false, &LocalStoreError{Op: "startup restore check", Err: err}
		}
		if count > 0 {
			log.Printf("📦 Local store has data (%s: %d rows), skipping startup restore", table, count)
			return false, nil
		}
	}

	return c.Restore(ctx, "")
}

func (c *Checkpoint) markerPath() string {
	return filepath.Join(c.dataDir, restoreMarkerFile)
}

func (c *Checkpoint) writeMarker(snapshotID string) error {
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("%s %s\n", snapshotID, time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(c.markerPath(), []byte(content), 0o644)
}

// reencodeRow flattens decoded JSON columns back into strings so the insert
// can bind them as plain column values.
func reencodeRow(row map[string]interface{}) {
	for k, v := range row {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			if b, err := json.Marshal(v); err == nil {
				row[k] = string(b)
			}
		}
	}
}

// normalizeRow rewrites driver-specific scan values into JSON-friendly ones.
// Postgres jsonb and bytea columns both scan as []byte.
func normalizeRow(row map[string]interface{}) {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			if json.Valid(b) {
				row[k] = json.RawMessage(b)
			} else {
				row[k] = string(b)
			}
		}
	}
}
