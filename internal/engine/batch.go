package engine

import (
	"context"
	"fmt"
)

// BatchOp is one operation queued onto a [Batch].
type BatchOp struct {
	Kind       string // "insert", "update", "update_partial", "delete"
	Collection string
	ID         string
	Data       map[string]any
	Content    string
}

// Batch collects a sequence of writes to apply together. If any operation
// fails, every operation already applied is unwound in reverse order before
// the error is returned, so a caller either sees the whole batch take
// effect or none of it.
type Batch struct {
	store *Store
	ops   []BatchOp
}

// NewBatch returns an empty batch bound to this store.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s}
}

// Insert queues an insert.
func (b *Batch) Insert(collection string, data map[string]any, content string) *Batch {
	b.ops = append(b.ops, BatchOp{Kind: "insert", Collection: collection, Data: data, Content: content})

	return b
}

// Update queues a full update.
func (b *Batch) Update(collection, id string, data map[string]any, content string) *Batch {
	b.ops = append(b.ops, BatchOp{Kind: "update", Collection: collection, ID: id, Data: data, Content: content})

	return b
}

// UpdatePartial queues a partial update.
func (b *Batch) UpdatePartial(collection, id string, patch map[string]any) *Batch {
	b.ops = append(b.ops, BatchOp{Kind: "update_partial", Collection: collection, ID: id, Data: patch})

	return b
}

// Delete queues a delete.
func (b *Batch) Delete(collection, id string) *Batch {
	b.ops = append(b.ops, BatchOp{Kind: "delete", Collection: collection, ID: id})

	return b
}

// batchUndo is the inverse of one applied op, captured as the batch runs.
type batchUndo struct {
	apply func(ctx context.Context) error
}

// Execute applies every queued operation in order. On the first failure, it
// runs the undo actions captured for every operation that already
// succeeded, in reverse order, then returns the original error.
func (b *Batch) Execute(ctx context.Context) ([]*Document, error) {
	s := b.store

	results := make([]*Document, len(b.ops))

	var undos []batchUndo

	for i, op := range b.ops {
		doc, undo, err := s.applyBatchOp(ctx, op)
		if err != nil {
			rollbackBatch(ctx, undos)

			return nil, fmt.Errorf("engine: batch: operation %d (%s %s): %w", i, op.Kind, op.Collection, err)
		}

		results[i] = doc
		undos = append(undos, undo)
	}

	return results, nil
}

func rollbackBatch(ctx context.Context, undos []batchUndo) {
	for i := len(undos) - 1; i >= 0; i-- {
		if undos[i].apply == nil {
			continue
		}

		_ = undos[i].apply(ctx) // best-effort: rollback failures are not surfaced further
	}
}

// applyBatchOp runs one operation and returns an undo closure that reverses
// it, captured before the next operation runs.
func (s *Store) applyBatchOp(ctx context.Context, op BatchOp) (*Document, batchUndo, error) {
	switch op.Kind {
	case "insert":
		doc, err := s.Insert(ctx, op.Collection, op.Data, op.Content)
		if err != nil {
			return nil, batchUndo{}, err
		}

		collection, id := op.Collection, doc.ID

		return doc, batchUndo{apply: func(ctx context.Context) error {
			return s.Delete(ctx, collection, id)
		}}, nil

	case "update":
		before, err := s.Get(ctx, op.Collection, op.ID)
		if err != nil {
			return nil, batchUndo{}, err
		}

		doc, err := s.Update(ctx, op.Collection, op.ID, op.Data, op.Content)
		if err != nil {
			return nil, batchUndo{}, err
		}

		collection, id, data, content := op.Collection, op.ID, before.Data, before.Content

		return doc, batchUndo{apply: func(ctx context.Context) error {
			_, err := s.Update(ctx, collection, id, data, content)

			return err
		}}, nil

	case "update_partial":
		before, err := s.Get(ctx, op.Collection, op.ID)
		if err != nil {
			return nil, batchUndo{}, err
		}

		doc, err := s.UpdatePartial(ctx, op.Collection, op.ID, op.Data)
		if err != nil {
			return nil, batchUndo{}, err
		}

		collection, id, data, content := op.Collection, op.ID, before.Data, before.Content

		return doc, batchUndo{apply: func(ctx context.Context) error {
			_, err := s.Update(ctx, collection, id, data, content)

			return err
		}}, nil

	case "delete":
		before, err := s.Get(ctx, op.Collection, op.ID)
		if err != nil {
			return nil, batchUndo{}, err
		}

		if err := s.Delete(ctx, op.Collection, op.ID); err != nil {
			return nil, batchUndo{}, err
		}

		collection, data, content := op.Collection, before.Data, before.Content

		return nil, batchUndo{apply: func(ctx context.Context) error {
			_, err := s.Insert(ctx, collection, data, content)

			return err
		}}, nil

	default:
		return nil, batchUndo{}, fmt.Errorf("engine: unknown batch op kind %q", op.Kind)
	}
}
