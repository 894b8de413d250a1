package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/ventalink/salesbridge/internal/database"
	"github.com/ventalink/salesbridge/internal/models"
	"github.com/ventalink/salesbridge/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testInstance = "test-instance"

// newTestDB opens a private in-memory database with the full schema
func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	return openTestDB(t, fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
}

func openTestDB(t *testing.T, dsn string) *database.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	db := &database.DB{DB: gdb}
	err = db.AutoMigrate(
		&models.Client{},
		&models.CartItem{},
		&models.Quote{},
		&models.QuoteItem{},
		&models.SearchEntry{},
		&models.Product{},
		&models.ChangeEntry{},
		&models.IdentityMapping{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test schema: %v", err)
	}
	return db
}

// testEnv bundles the engine components around one local store and one
// in-memory remote store.
type testEnv struct {
	db         *database.DB
	remote     *store.MemoryStore
	queue      *ChangeQueue
	translator *Translator
	monitor    *Monitor
	router     *Router
	reconciler *Reconciler
	checkpoint *Checkpoint
	catalog    *Catalog
}

// newTestEnv builds a fully wired engine with immediate retries, so drain
// tests never have to wait out a backoff window.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithDB(t, newTestDB(t))
}

func newTestEnvWithDB(t *testing.T, db *database.DB) *testEnv {
	t.Helper()

	remote := store.NewMemoryStore()

	queue := NewChangeQueue(db)
	translator := NewTranslator(db)
	monitor := NewMonitor(remote, 0, time.Second, nil)
	router := NewRouter(db, remote, queue, translator, monitor, testInstance)
	reconciler := NewReconciler(db, remote, queue, translator, monitor, testInstance,
		100, 3, 0, 0, 10)
	checkpoint := NewCheckpoint(db, remote, testInstance, t.TempDir(), 14*24*time.Hour)
	catalog := NewCatalog(db, remote, translator)

	return &testEnv{
		db:         db,
		remote:     remote,
		queue:      queue,
		translator: translator,
		monitor:    monitor,
		router:     router,
		reconciler: reconciler,
		checkpoint: checkpoint,
		catalog:    catalog,
	}
}

// seedProduct puts one product into the local catalog cache and binds its
// remote identity, the state a catalog pull leaves behind.
func (env *testEnv) seedProduct(t *testing.T, sku, name string, price float64) *models.Product {
	t.Helper()

	remoteID := "remote-" + uuid.NewString()[:8]
	product := models.Product{
		RemoteID:     remoteID,
		SKU:          sku,
		Name:         name,
		ListPrice:    price,
		Active:       true,
		LastSyncedAt: time.Now().UTC(),
	}
	if err := env.db.Create(&product).Error; err != nil {
		t.Fatalf("failed to seed product: %v", err)
	}
	if err := env.translator.Bind(EntityProducts, product.ID, remoteID); err != nil {
		t.Fatalf("failed to bind product identity: %v", err)
	}
	return &product
}

// pendingEntries fails the test on a queue read error
func (env *testEnv) pendingEntries(t *testing.T) []models.ChangeEntry {
	t.Helper()
	entries, err := env.queue.Pending(0)
	if err != nil {
		t.Fatalf("failed to read queue: %v", err)
	}
	return entries
}
