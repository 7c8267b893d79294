package resource

import (
	"context"
	"fmt"
	"reflect"

	"github.com/picklr-io/picklr-aws/internal/errdefs"
	"github.com/picklr-io/picklr-aws/internal/logging"
	"github.com/picklr-io/picklr-aws/internal/tags"
)

// Refresh reloads r from the remote service. It returns false when the
// resource no longer exists, leaving r unchanged.
func Refresh(ctx context.Context, r Managed) (bool, error) {
	log := logging.With("type", r.Type(), "id", r.ID())
	log.Debug("refreshing resource")

	restore := snapshot(r)
	found, err := r.Read(ctx)
	if errdefs.IsNotFound(err) {
		restore()
		log.Debug("resource not found")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s %s: %w", r.Type(), r.ID(), err)
	}
	if !found {
		restore()
		log.Debug("resource not found")
		return false, nil
	}

	if t, ok := r.(Taggable); ok {
		current, err := t.ListTags(ctx)
		if errdefs.IsNotFound(err) {
			// Deleted between the two calls.
			restore()
			log.Debug("resource not found")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to list tags of %s %s: %w", r.Type(), r.ID(), err)
		}
		t.SetTags(current)
	}
	return true, nil
}

// snapshot copies the struct behind r and returns a func that puts the
// copy back.
func snapshot(r Managed) func() {
	v := reflect.ValueOf(r)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return func() {}
	}
	elem := v.Elem()
	saved := reflect.New(elem.Type()).Elem()
	saved.Set(elem)
	return func() { elem.Set(saved) }
}

// Create creates r, then applies its tags. state is saved after each step.
func Create(ctx context.Context, r Managed, ui UI, state Checkpointer) error {
	logging.Debug("creating resource", "type", r.Type())

	if err := r.Create(ctx, ui, state); err != nil {
		return fmt.Errorf("failed to create %s: %w", r.Type(), err)
	}
	if err := state.Save(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	t, ok := r.(Taggable)
	if !ok || len(t.Tags()) == 0 {
		return nil
	}
	ui.Printf("Tagging %s %s\n", r.Type(), r.ID())
	if err := tags.Apply(ctx, t.Tagger(), t.TagID(), tags.Reconcile(nil, t.Tags())); err != nil {
		return err
	}
	if err := state.Save(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Update brings the remote resource from prev to r. changed holds the
// names of the fields that differ; tag changes are reconciled separately.
func Update(ctx context.Context, r Managed, ui UI, state Checkpointer, prev Managed, changed FieldSet) error {
	logging.Debug("updating resource", "type", r.Type(), "id", r.ID(), "fields", changed.Names())

	if fields := changed.Without(TagsField); len(fields) > 0 {
		if err := r.Update(ctx, ui, prev, fields); err != nil {
			return fmt.Errorf("failed to update %s %s: %w", r.Type(), r.ID(), err)
		}
		if err := state.Save(); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
	}

	if !changed.Has(TagsField) {
		return nil
	}
	t, ok := r.(Taggable)
	if !ok {
		return nil
	}
	var current tags.Set
	if p, ok := prev.(Taggable); ok {
		current = p.Tags()
	}
	diff := tags.Reconcile(current, t.Tags())
	if diff.Empty() {
		return nil
	}
	ui.Printf("Updating tags of %s %s\n", r.Type(), r.ID())
	if err := tags.Apply(ctx, t.Tagger(), t.TagID(), diff); err != nil {
		return err
	}
	if err := state.Save(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Delete removes r. A resource that is already gone counts as deleted.
func Delete(ctx context.Context, r Managed, ui UI) error {
	logging.Debug("deleting resource", "type", r.Type(), "id", r.ID())

	if err := r.Delete(ctx, ui); err != nil {
		if errdefs.IsNotFound(err) {
			logging.Debug("resource already deleted", "type", r.Type(), "id", r.ID())
			return nil
		}
		return fmt.Errorf("failed to delete %s %s: %w", r.Type(), r.ID(), err)
	}
	return nil
}
