package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/index"
)

// AlterStatusMsgCount bounds the alter history ring buffer.
const AlterStatusMsgCount = 5

// alterProgressLogEvery is how many documents pass between progress logs.
const alterProgressLogEvery = 16384

// AlterStatus is the live observability state of schema alterations.
type AlterStatus struct {
	mu sync.Mutex

	InProgress    atomic.Bool
	ValidatedDocs atomic.Uint64
	AlteredDocs   atomic.Uint64

	history []string
}

// NewAlterStatus creates an empty status.
func NewAlterStatus() *AlterStatus {
	return &AlterStatus{}
}

// Record appends an outcome message, keeping the most recent entries.
func (a *AlterStatus) Record(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, msg)
	if len(a.history) > AlterStatusMsgCount {
		a.history = a.history[len(a.history)-AlterStatusMsgCount:]
	}
}

// Snapshot returns the public status view.
func (a *AlterStatus) Snapshot() (inProgress bool, validated, altered uint64, history []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.InProgress.Load(), a.ValidatedDocs.Load(), a.AlteredDocs.Load(),
		append([]string(nil), a.history...)
}

// SchemaChange is one entry of a schema_changes.fields list.
type SchemaChange struct {
	Drop  bool
	Field field.Field
}

// DocReembedder recomputes auto-embedding fields of a document when the
// embedding spec changed during an alter.
type DocReembedder interface {
	EmbedDocument(ctx context.Context, col domcol.Collection, doc domdoc.Doc) error
}

// Alter applies schema changes with the two-phase contract: validate every
// stored document against the proposed schema first, then mutate. A failed
// validation leaves the schema byte-identical.
func (s *Service) Alter(ctx context.Context, name string, changes []SchemaChange,
	docs DocStore, reembed DocReembedder) (domcol.Collection, error) {
	h, err := s.registry.Get(name)
	if err != nil {
		return domcol.Collection{}, err
	}

	if !h.Alter.InProgress.CompareAndSwap(false, true) {
		return domcol.Collection{}, fmt.Errorf("%w: another alter is in progress on %q",
			domain.ErrConflict, name)
	}
	defer h.Alter.InProgress.Store(false)
	h.Alter.ValidatedDocs.Store(0)
	h.Alter.AlteredDocs.Store(0)

	h.RLock()
	current := h.Meta
	h.RUnlock()

	proposed, added, modified, dropped, err := applyChanges(current, changes)
	if err != nil {
		h.Alter.Record("rejected: " + err.Error())
		return domcol.Collection{}, err
	}

	// Validation phase: coerce every stored document against the proposed
	// schema. Any rejection aborts before mutation.
	if err := s.validateStored(ctx, h, proposed, docs); err != nil {
		h.Alter.Record("validation failed: " + err.Error())
		return domcol.Collection{}, err
	}

	// Mutation phase: additions, then reindex of modifications, then purge
	// of dropped fields.
	h.Lock()
	defer h.Unlock()

	for _, f := range added {
		h.Index.AddField(f)
	}
	for _, f := range modified {
		h.Index.DropField(f.Name)
		h.Index.AddField(f)
	}
	reindexTargets := append(append([]field.Field(nil), added...), modified...)
	if len(reindexTargets) > 0 {
		if err := s.reindexStored(ctx, h, proposed, reindexTargets, docs, reembed); err != nil {
			h.Alter.Record("reindex failed: " + err.Error())
			return domcol.Collection{}, err
		}
	}
	for _, name := range dropped {
		h.Index.DropField(name)
	}

	h.Meta = proposed
	if err := s.meta.Save(ctx, proposed); err != nil {
		h.Alter.Record("persist failed: " + err.Error())
		return domcol.Collection{}, err
	}
	h.Alter.Record(fmt.Sprintf("altered: %d added, %d modified, %d dropped",
		len(added), len(modified), len(dropped)))
	s.logger.Info("schema altered", zap.String("collection", name),
		zap.Int("added", len(added)), zap.Int("modified", len(modified)),
		zap.Int("dropped", len(dropped)))
	return proposed, nil
}

// applyChanges computes the proposed schema. Drops are processed first;
// adding a field dropped in the same change set is a modification (reindex),
// and adding an existing field without dropping it is rejected.
func applyChanges(current domcol.Collection, changes []SchemaChange) (
	proposed domcol.Collection, added, modified []field.Field, dropped []string, err error) {
	existing := make(map[string]field.Field, len(current.Fields))
	for _, f := range current.Fields {
		existing[f.Name] = f
	}

	droppedSet := map[string]bool{}
	for _, c := range changes {
		if !c.Drop {
			continue
		}
		if _, ok := existing[c.Field.Name]; !ok {
			return domcol.Collection{}, nil, nil, nil, fmt.Errorf(
				"%w: field %q does not exist and cannot be dropped", domain.ErrInvalidArgument, c.Field.Name)
		}
		droppedSet[c.Field.Name] = true
	}

	for _, c := range changes {
		if c.Drop {
			continue
		}
		f := c.Field
		if _, ok := existing[f.Name]; ok && !droppedSet[f.Name] {
			return domcol.Collection{}, nil, nil, nil, fmt.Errorf(
				"%w: field %q is already part of the schema: drop it first or set drop alongside the add",
				domain.ErrInvalidArgument, f.Name)
		}
		if droppedSet[f.Name] {
			// Drop + add of the same field is a reindex.
			modified = append(modified, f)
			delete(droppedSet, f.Name)
		} else {
			added = append(added, f)
		}
	}
	for name := range droppedSet {
		dropped = append(dropped, name)
	}

	var fields []field.Field
	for _, f := range current.Fields {
		if containsName(dropped, f.Name) {
			continue
		}
		if m, ok := findField(modified, f.Name); ok {
			fields = append(fields, m)
			continue
		}
		fields = append(fields, f)
	}
	fields = append(fields, added...)

	proposed = current
	proposed.Fields = fields
	if containsName(dropped, proposed.DefaultSortingField) {
		proposed.DefaultSortingField = ""
	}
	return proposed, added, modified, dropped, nil
}

// validateStored walks every stored document against the proposed schema.
func (s *Service) validateStored(ctx context.Context, h *Handle,
	proposed domcol.Collection, docs DocStore) error {
	lastLog := time.Now()
	var walkErr error
	err := docs.WalkSeqOrder(ctx, proposed.ID, func(seqID uint32, doc domdoc.Doc) bool {
		copied := make(domdoc.Doc, len(doc))
		for k, v := range doc {
			copied[k] = v
		}
		if err := domdoc.Validate(copied, proposed.Fields, domdoc.CoerceOrReject); err != nil {
			walkErr = fmt.Errorf("%w: document %v: %v", domain.ErrIncompatibleStoredData,
				doc["id"], alterMessage(err))
			return false
		}
		n := h.Alter.ValidatedDocs.Add(1)
		if n%alterProgressLogEvery == 0 || time.Since(lastLog) > 30*time.Second {
			lastLog = time.Now()
			s.logger.Info("alter validation progress",
				zap.String("collection", proposed.Name), zap.Uint64("validated_docs", n))
		}
		return true
	})
	if err != nil {
		return err
	}
	return walkErr
}

// alterMessage rewrites validator errors into actionable alter messages.
func alterMessage(err error) string {
	msg := err.Error()
	if errors.Is(err, domain.ErrInvalidArgument) {
		return "existing data " + msg + "; set optional: true on the field or fix the stored documents"
	}
	return msg
}

// reindexStored walks stored documents in seq order in ingest-sized batches,
// feeding only the changed fields to the index and re-embedding documents
// whose embedding fields changed.
func (s *Service) reindexStored(ctx context.Context, h *Handle, proposed domcol.Collection,
	targets []field.Field, docs DocStore, reembed DocReembedder) error {
	embedChanged := false
	for _, f := range targets {
		if f.IsAutoEmbedding() {
			embedChanged = true
			break
		}
	}

	batch := make([]index.Record, 0, ingestBatchSize)
	lastLog := time.Now()
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := h.Index.BatchMemoryIndex(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	var walkErr error
	err := docs.WalkSeqOrder(ctx, proposed.ID, func(seqID uint32, doc domdoc.Doc) bool {
		if err := domdoc.Validate(doc, targets, domdoc.CoerceOrDrop); err != nil {
			walkErr = err
			return false
		}
		if embedChanged && reembed != nil {
			if err := reembed.EmbedDocument(ctx, proposed, doc); err != nil {
				walkErr = err
				return false
			}
			if err := docs.Save(ctx, proposed.ID, seqID, doc); err != nil {
				walkErr = err
				return false
			}
		}
		batch = append(batch, index.Record{SeqID: seqID, Doc: doc, Fields: targets})
		if len(batch) >= ingestBatchSize {
			if err := flush(); err != nil {
				walkErr = err
				return false
			}
		}
		n := h.Alter.AlteredDocs.Add(1)
		if n%alterProgressLogEvery == 0 || time.Since(lastLog) > 30*time.Second {
			lastLog = time.Now()
			s.logger.Info("alter reindex progress",
				zap.String("collection", proposed.Name), zap.Uint64("altered_docs", n))
		}
		return true
	})
	if err != nil {
		return err
	}
	if walkErr != nil {
		return walkErr
	}
	return flush()
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func findField(fields []field.Field, name string) (field.Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return field.Field{}, false
}
