package docsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingDocID    = errors.New("document identifier is required")
	errMissingRoom     = errors.New("workspace identifier is required")
	noOpLogger         = zap.NewNop()

	// ErrNotFound indicates that no durable row exists for a document identifier.
	ErrNotFound = errors.New("docsync: document not found")
)

const (
	opEngineNew   = "docsync.engine.new"
	opLoad        = "docsync.load"
	opApplyUpdate = "docsync.apply_update"
	opFlush       = "docsync.flush"
	opCreate      = "docsync.create"
	opList        = "docsync.list"
	opFind        = "docsync.find"

	fieldDocID     = "doc_id"
	fieldWorkspace = "workspace"
)

// EngineError carries an operation.reason code alongside the underlying cause.
type EngineError struct {
	code string
	err  error
}

func (e *EngineError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *EngineError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *EngineError) Code() string {
	return e.code
}

func newEngineError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &EngineError{code: code, err: cause}
}

// docEntry holds one cached document. Its mutex serializes the load-or-create
// step, fragment merges and flush encoding for that document only.
type docEntry struct {
	mu        sync.Mutex
	doc       *automerge.Doc
	workspace string
	loaded    bool
}

// EngineConfig describes the dependencies of the document engine.
type EngineConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Engine holds the in-memory replicated-document cache keyed by document
// identifier. Instances are materialized lazily from durable storage and are
// never evicted for the process lifetime.
type Engine struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*docEntry
}

// NewEngine constructs the document synchronization engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, newEngineError(opEngineNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Engine{
		db:      cfg.Database,
		clock:   clock,
		logger:  logger,
		entries: make(map[string]*docEntry),
	}, nil
}

func (e *Engine) entry(docID string) *docEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[docID]
	if !ok {
		entry = &docEntry{}
		e.entries[docID] = entry
	}
	return entry
}

// ensureLoaded materializes the CRDT instance from the durable row, or starts
// an empty one when no row exists. Callers must hold entry.mu.
func (e *Engine) ensureLoaded(ctx context.Context, docID string, entry *docEntry) error {
	if entry.loaded {
		return nil
	}

	var row Document
	err := e.db.WithContext(ctx).Where("doc_id = ?", docID).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		entry.doc = automerge.New()
		e.logger.Info("starting new document", zap.String(fieldDocID, docID))
	case err != nil:
		e.logError(opLoad, "query_failed", err, zap.String(fieldDocID, docID))
		return newEngineError(opLoad, "query_failed", err)
	case len(row.Data) == 0:
		entry.doc = automerge.New()
		if entry.workspace == "" {
			entry.workspace = row.Workspace
		}
	default:
		doc, loadErr := automerge.Load(row.Data)
		if loadErr != nil {
			e.logError(opLoad, "snapshot_corrupt", loadErr, zap.String(fieldDocID, docID))
			return newEngineError(opLoad, "snapshot_corrupt", loadErr)
		}
		entry.doc = doc
		if entry.workspace == "" {
			entry.workspace = row.Workspace
		}
		e.logger.Info("loaded document snapshot", zap.String(fieldDocID, docID))
	}
	entry.loaded = true
	return nil
}

// Get returns the live CRDT instance for the document, loading the durable
// snapshot on first access. Concurrent first accesses for the same identifier
// share a single load.
func (e *Engine) Get(ctx context.Context, docID string) (*automerge.Doc, error) {
	if strings.TrimSpace(docID) == "" {
		return nil, newEngineError(opLoad, "missing_doc_id", errMissingDocID)
	}
	entry := e.entry(docID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := e.ensureLoaded(ctx, docID, entry); err != nil {
		return nil, err
	}
	return entry.doc, nil
}

// Snapshot returns the encoded current state of the document, loading it first
// if necessary. The result can be replayed into a fresh replica.
func (e *Engine) Snapshot(ctx context.Context, docID string) ([]byte, error) {
	entry := e.entry(docID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := e.ensureLoaded(ctx, docID, entry); err != nil {
		return nil, err
	}
	return entry.doc.Save(), nil
}

// Associate records the owning workspace for a document identifier. The most
// recent association wins; callers are expected to keep identifiers 1:1 with
// workspaces.
func (e *Engine) Associate(docID, workspace string) {
	if docID == "" || workspace == "" {
		return
	}
	entry := e.entry(docID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.workspace != "" && entry.workspace != workspace {
		e.logger.Debug("document workspace association replaced",
			zap.String(fieldDocID, docID),
			zap.String("previous", entry.workspace),
			zap.String(fieldWorkspace, workspace))
	}
	entry.workspace = workspace
}

// ApplyUpdate merges an incoming update fragment into the cached instance.
// Merge is commutative, associative and idempotent; a malformed fragment is
// rejected without touching the document.
func (e *Engine) ApplyUpdate(ctx context.Context, docID string, fragment []byte) error {
	if len(fragment) == 0 {
		return newEngineError(opApplyUpdate, "empty_fragment", errors.New("update fragment is empty"))
	}
	entry := e.entry(docID)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := e.ensureLoaded(ctx, docID, entry); err != nil {
		return err
	}
	if err := entry.doc.LoadIncremental(fragment); err != nil {
		e.logError(opApplyUpdate, "fragment_rejected", err, zap.String(fieldDocID, docID))
		return newEngineError(opApplyUpdate, "fragment_rejected", err)
	}
	return nil
}

// Flush encodes every cached document and upserts its durable row. A document
// with no known workspace is skipped with a warning; a single document's
// failure does not abort the cycle. It returns the number of rows written.
func (e *Engine) Flush(ctx context.Context) int {
	e.mu.Lock()
	snapshot := make(map[string]*docEntry, len(e.entries))
	for docID, entry := range e.entries {
		snapshot[docID] = entry
	}
	e.mu.Unlock()

	flushed := 0
	for docID, entry := range snapshot {
		entry.mu.Lock()
		if !entry.loaded {
			entry.mu.Unlock()
			continue
		}
		workspace := entry.workspace
		var data []byte
		if workspace != "" {
			data = entry.doc.Save()
		}
		entry.mu.Unlock()

		if workspace == "" {
			e.logger.Warn("skipping document flush without workspace association",
				zap.String(fieldDocID, docID))
			continue
		}

		row := Document{
			DocID:     docID,
			Workspace: workspace,
			Data:      data,
			UpdatedAt: e.clock().UTC(),
		}
		err := e.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "doc_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"workspace", "data", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			e.logError(opFlush, "upsert_failed", err,
				zap.String(fieldDocID, docID),
				zap.String(fieldWorkspace, workspace))
			continue
		}
		flushed++
	}
	return flushed
}

// Run flushes on the given interval until the context is cancelled, then
// performs one final flush so a clean shutdown loses no edits.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			flushed := e.Flush(ctx)
			if flushed > 0 {
				e.logger.Info("flushed document snapshots", zap.Int("count", flushed))
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			flushed := e.Flush(shutdownCtx)
			cancel()
			e.logger.Info("final document flush complete", zap.Int("count", flushed))
			return
		}
	}
}

// Create persists a document directory row ahead of any edits.
func (e *Engine) Create(ctx context.Context, docID, workspace, name string) (Document, error) {
	if strings.TrimSpace(docID) == "" {
		return Document{}, newEngineError(opCreate, "missing_doc_id", errMissingDocID)
	}
	if strings.TrimSpace(workspace) == "" {
		return Document{}, newEngineError(opCreate, "missing_workspace", errMissingRoom)
	}
	if strings.TrimSpace(name) == "" {
		name = defaultDocumentName
	}
	row := Document{
		DocID:     docID,
		Workspace: workspace,
		Name:      name,
		UpdatedAt: e.clock().UTC(),
	}
	if err := e.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		e.logError(opCreate, "insert_failed", err, zap.String(fieldDocID, docID))
		return Document{}, newEngineError(opCreate, "insert_failed", err)
	}
	e.Associate(docID, workspace)
	return row, nil
}

// ListByWorkspace returns the workspace's document rows, newest-first.
func (e *Engine) ListByWorkspace(ctx context.Context, workspace string) ([]Document, error) {
	if strings.TrimSpace(workspace) == "" {
		return nil, newEngineError(opList, "missing_workspace", errMissingRoom)
	}
	var rows []Document
	if err := e.db.WithContext(ctx).
		Where("workspace = ?", workspace).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		e.logError(opList, "query_failed", err, zap.String(fieldWorkspace, workspace))
		return nil, newEngineError(opList, "query_failed", err)
	}
	return rows, nil
}

// Find returns the durable row for a document identifier.
func (e *Engine) Find(ctx context.Context, docID string) (Document, error) {
	var row Document
	err := e.db.WithContext(ctx).Where("doc_id = ?", docID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if err != nil {
		e.logError(opFind, "query_failed", err, zap.String(fieldDocID, docID))
		return Document{}, newEngineError(opFind, "query_failed", err)
	}
	return row, nil
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("docsync engine error", attrs...)
}
