package document

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/domain/search/filter"
	"github.com/kailas-cloud/omnidex/internal/index"
	"github.com/kailas-cloud/omnidex/internal/usecase/collection"
)

// resolveReferences fills the helper fields of every reference field:
// synchronous references resolve now or fail the document; async references
// store the unresolved sentinel and are back-filled later.
func (s *Service) resolveReferences(ctx context.Context, col domcol.Collection, doc domdoc.Doc) error {
	for _, f := range col.ReferenceFields() {
		raw, ok := doc[f.Name]
		if !ok || raw == nil {
			if f.Optional {
				continue
			}
			return fmt.Errorf("%w: reference field %q has no value", domain.ErrInvalidArgument, f.Name)
		}
		refColl, refField, err := f.ReferencedCollection()
		if err != nil {
			return err
		}

		values := referenceValues(raw)
		helpers := make([]any, len(values))
		for i, v := range values {
			seq, err := s.lookupReference(ctx, refColl, refField, v)
			switch {
			case err == nil:
				helpers[i] = float64(seq)
			case f.AsyncReference:
				helpers[i] = float64(field.UnresolvedReference)
			default:
				return fmt.Errorf("%w: reference %q=%v in field %q: %v",
					domain.ErrNotFound, refColl+"."+refField, v, f.Name, err)
			}
		}
		if f.IsArray() {
			doc[f.HelperName()] = helpers
		} else if len(helpers) == 1 {
			doc[f.HelperName()] = helpers[0]
		}
	}
	return nil
}

// lookupReference resolves refField=value in the referenced collection to a
// unique seq id.
func (s *Service) lookupReference(ctx context.Context, refColl, refField string, value any) (uint32, error) {
	h, err := s.registry.Get(refColl)
	if err != nil {
		return 0, err
	}
	node := equalityFilter(refField, value)
	res, err := h.Index.EvalFilterResult(ctx, node)
	if err != nil {
		return 0, err
	}
	switch res.Count() {
	case 1:
		return res.IDs[0], nil
	case 0:
		return 0, fmt.Errorf("no document found")
	default:
		return 0, fmt.Errorf("value resolves to %d documents", res.Count())
	}
}

func equalityFilter(fieldName string, value any) *filter.Node {
	return filter.NewLeaf(filter.Atom{
		FieldName:   fieldName,
		Values:      []string{fmt.Sprintf("%v", value)},
		Comparators: []filter.Comparator{filter.Equals},
	}, fieldName)
}

func referenceValues(raw any) []any {
	if arr, ok := raw.([]any); ok {
		return arr
	}
	return []any{raw}
}

// backfillAsyncReferences resolves pending async references pointing at a
// freshly inserted document: for each async backward edge, referencing docs
// whose reference value equals the new document's referenced-field value get
// their helper entries updated. A reference already resolved to a different
// document is left untouched.
func (s *Service) backfillAsyncReferences(ctx context.Context, h *collection.Handle,
	newDoc domdoc.Doc, newSeq uint32) {
	asyncEdges := h.AsyncReferencedIn()
	if len(asyncEdges) == 0 {
		return
	}
	for refCollName, fields := range asyncEdges {
		owning, err := s.registry.Get(refCollName)
		if err != nil {
			continue
		}
		for _, refFieldName := range fields {
			s.backfillOne(ctx, owning, refFieldName, h.Meta.Name, newDoc, newSeq)
		}
	}
}

func (s *Service) backfillOne(ctx context.Context, owning *collection.Handle,
	refFieldName, referencedName string, newDoc domdoc.Doc, newSeq uint32) {
	owning.Lock()
	defer owning.Unlock()

	f, ok := owning.Meta.FieldByName(refFieldName)
	if !ok {
		return
	}
	refColl, refField, err := f.ReferencedCollection()
	if err != nil || refColl != referencedName {
		return
	}
	value, ok := domdoc.GetNested(newDoc, refField)
	if !ok {
		return
	}

	node := equalityFilter(refFieldName, value)
	res, err := owning.Index.EvalFilterResult(ctx, node)
	if err != nil {
		return
	}
	for _, seqID := range res.IDs {
		doc, err := s.docs.GetBySeq(ctx, owning.Meta.ID, seqID)
		if err != nil {
			continue
		}
		if !setHelperValue(doc, f, value, newSeq) {
			continue
		}
		if err := s.docs.Save(ctx, owning.Meta.ID, seqID, doc); err != nil {
			s.logger.Error("async reference backfill persist failed",
				zap.String("collection", owning.Meta.Name), zap.Uint32("seq_id", seqID), zap.Error(err))
			continue
		}
		helperField, _ := owning.Meta.FieldByName(f.HelperName())
		if err := owning.Index.BatchMemoryIndex(ctx, []index.Record{
			{SeqID: seqID, Doc: doc, Fields: []field.Field{helperField}},
		}); err != nil {
			s.logger.Error("async reference backfill index failed",
				zap.String("collection", owning.Meta.Name), zap.Uint32("seq_id", seqID), zap.Error(err))
		}
	}
}

// setHelperValue updates the helper entry matching value. Updates that would
// re-target an already-resolved reference are rejected; array references
// keep element-wise correspondence.
func setHelperValue(doc domdoc.Doc, f field.Field, value any, newSeq uint32) bool {
	want := fmt.Sprintf("%v", value)
	if f.IsArray() {
		vals, _ := doc[f.Name].([]any)
		helpers, _ := doc[f.HelperName()].([]any)
		if len(vals) != len(helpers) {
			return false
		}
		changed := false
		for i, v := range vals {
			if fmt.Sprintf("%v", v) != want {
				continue
			}
			cur, _ := helpers[i].(float64)
			if uint32(cur) != field.UnresolvedReference {
				continue
			}
			helpers[i] = float64(newSeq)
			changed = true
		}
		if changed {
			doc[f.HelperName()] = helpers
		}
		return changed
	}

	v, ok := doc[f.Name]
	if !ok || fmt.Sprintf("%v", v) != want {
		return false
	}
	cur, _ := doc[f.HelperName()].(float64)
	if uint32(cur) != field.UnresolvedReference {
		return false
	}
	doc[f.HelperName()] = float64(newSeq)
	return true
}

// cascadeDelete repairs or removes documents referencing a deleted one.
func (s *Service) cascadeDelete(ctx context.Context, deletedCol domcol.Collection,
	deletedDoc domdoc.Doc, deletedSeq uint32, backEdges map[string]string) {
	for owningName, refFieldName := range backEdges {
		owning, err := s.registry.Get(owningName)
		if err != nil {
			continue
		}
		s.cascadeIntoCollection(ctx, owning, refFieldName, deletedSeq)
	}
	_ = deletedCol
	_ = deletedDoc
}

// cascadeIntoCollection applies the cascade rules inside one owning
// collection: singular references delete the owning document unless the
// field is optional (then it is nulled); array references drop the matching
// element while preserving index correspondence, falling back to the
// singular rule when the array empties.
func (s *Service) cascadeIntoCollection(ctx context.Context, owning *collection.Handle,
	refFieldName string, deletedSeq uint32) {
	owning.Lock()

	f, ok := owning.Meta.FieldByName(refFieldName)
	if !ok {
		owning.Unlock()
		return
	}
	helperName := f.HelperName()

	node := filter.NewLeaf(filter.Atom{
		FieldName:   helperName,
		Values:      []string{fmt.Sprintf("%d", deletedSeq)},
		Comparators: []filter.Comparator{filter.Equals},
	}, helperName)
	res, err := owning.Index.EvalFilterResult(ctx, node)
	if err != nil {
		owning.Unlock()
		return
	}

	var toDelete []uint32
	for _, seqID := range res.IDs {
		doc, err := s.docs.GetBySeq(ctx, owning.Meta.ID, seqID)
		if err != nil {
			continue
		}
		removeAll := repairReference(doc, f, deletedSeq)
		if removeAll {
			toDelete = append(toDelete, seqID)
			continue
		}
		if err := s.docs.Save(ctx, owning.Meta.ID, seqID, doc); err != nil {
			continue
		}
		helperField, _ := owning.Meta.FieldByName(helperName)
		_ = owning.Index.Remove(seqID, doc, []field.Field{f, helperField})
		_ = owning.Index.BatchMemoryIndex(ctx, []index.Record{
			{SeqID: seqID, Doc: doc, Fields: []field.Field{f, helperField}},
		})
	}
	owning.Unlock()

	for _, seqID := range toDelete {
		doc, err := s.docs.GetBySeq(ctx, owning.Meta.ID, seqID)
		if err != nil {
			continue
		}
		docID, _ := doc["id"].(string)
		if _, err := s.Delete(ctx, owning.Meta.Name, docID); err != nil {
			s.logger.Error("cascade delete failed", zap.String("collection", owning.Meta.Name),
				zap.Uint32("seq_id", seqID), zap.Error(err))
		}
	}
}

// repairReference removes the deleted target from the document's reference
// field. Returns true when the owning document itself must be deleted.
func repairReference(doc domdoc.Doc, f field.Field, deletedSeq uint32) bool {
	if f.IsArray() {
		vals, _ := doc[f.Name].([]any)
		helpers, _ := doc[f.HelperName()].([]any)
		if len(vals) != len(helpers) {
			return false
		}
		outVals := vals[:0]
		outHelpers := helpers[:0]
		for i := range vals {
			h, _ := helpers[i].(float64)
			if uint32(h) == deletedSeq {
				continue
			}
			outVals = append(outVals, vals[i])
			outHelpers = append(outHelpers, helpers[i])
		}
		doc[f.Name] = outVals
		doc[f.HelperName()] = outHelpers
		if len(outVals) > 0 {
			return false
		}
	}
	// Singular rule: delete the owning document unless the reference is
	// optional, in which case the field is nulled.
	if f.Optional {
		delete(doc, f.Name)
		delete(doc, f.HelperName())
		return false
	}
	return true
}
