package gallery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// OrderingManager keeps display orders dense for entries within a kind and for
// images within an entry. Positions are always derived from the current rows.
type OrderingManager struct {
	store MetadataStore
}

// NewOrderingManager constructs an OrderingManager over store.
func NewOrderingManager(store MetadataStore) *OrderingManager {
	return &OrderingManager{store: store}
}

// NextImageOrder returns max(display_order)+1 over the entry's images, or 0.
func (m *OrderingManager) NextImageOrder(ctx context.Context, entryID string) (int, error) {
	images, err := m.store.ListImages(ctx, entryID)
	if err != nil {
		return 0, err
	}
	return nextImageOrder(images), nil
}

// NextEntryOrder returns max(display_order)+1 over the entries of kind, or 0.
func (m *OrderingManager) NextEntryOrder(ctx context.Context, kind Kind) (int, error) {
	entries, err := m.store.ListEntries(ctx, kind)
	if err != nil {
		return 0, err
	}
	orders := make([]int, 0, len(entries))
	for _, entry := range entries {
		orders = append(orders, entry.DisplayOrder)
	}
	return nextOrder(orders), nil
}

// ApplyOrder assigns display_order = index to every image id in orderedIDs. The ids
// must be exactly the entry's current images.
func (m *OrderingManager) ApplyOrder(ctx context.Context, entryID string, orderedIDs []string) error {
	images, err := m.store.ListImages(ctx, entryID)
	if err != nil {
		return err
	}
	current := make(map[string]int, len(images))
	for _, image := range images {
		current[image.ID] = image.DisplayOrder
	}
	if err := requireExactSet(current, orderedIDs); err != nil {
		return err
	}
	return applyPlan(ctx, current, orderedIDs, m.store.UpdateImageOrder)
}

// ApplyEntryOrder assigns display_order = index to every entry id in orderedIDs. The
// ids must be exactly the current entries of kind.
func (m *OrderingManager) ApplyEntryOrder(ctx context.Context, kind Kind, orderedIDs []string) error {
	entries, err := m.store.ListEntries(ctx, kind)
	if err != nil {
		return err
	}
	current := make(map[string]int, len(entries))
	for _, entry := range entries {
		current[entry.ID] = entry.DisplayOrder
	}
	if err := requireExactSet(current, orderedIDs); err != nil {
		return err
	}
	return applyPlan(ctx, current, orderedIDs, m.store.UpdateEntryOrder)
}

// Renumber rewrites the entry's image orders to 0..N-1 keeping their relative order.
func (m *OrderingManager) Renumber(ctx context.Context, entryID string) ([]Image, error) {
	images, err := m.store.ListImages(ctx, entryID)
	if err != nil {
		return nil, err
	}
	sortImages(images)
	current := make(map[string]int, len(images))
	orderedIDs := make([]string, 0, len(images))
	for _, image := range images {
		current[image.ID] = image.DisplayOrder
		orderedIDs = append(orderedIDs, image.ID)
	}
	if err := applyPlan(ctx, current, orderedIDs, m.store.UpdateImageOrder); err != nil {
		return nil, err
	}
	for index := range images {
		images[index].DisplayOrder = index
	}
	return images, nil
}

// RenumberEntries rewrites the orders of kind's entries to 0..N-1.
func (m *OrderingManager) RenumberEntries(ctx context.Context, kind Kind) error {
	entries, err := m.store.ListEntries(ctx, kind)
	if err != nil {
		return err
	}
	sortEntries(entries)
	current := make(map[string]int, len(entries))
	orderedIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		current[entry.ID] = entry.DisplayOrder
		orderedIDs = append(orderedIDs, entry.ID)
	}
	return applyPlan(ctx, current, orderedIDs, m.store.UpdateEntryOrder)
}

// applyPlan issues one update per row whose position changes. Every row is
// attempted; failures are joined.
func applyPlan(ctx context.Context, current map[string]int, orderedIDs []string, update func(context.Context, string, int) error) error {
	var failures []error
	for index, id := range orderedIDs {
		if existing, ok := current[id]; ok && existing == index {
			continue
		}
		if err := update(ctx, id, index); err != nil {
			failures = append(failures, fmt.Errorf("set order of %s to %d: %w", id, index, err))
		}
	}
	return errors.Join(failures...)
}

func requireExactSet(current map[string]int, orderedIDs []string) error {
	seen := make(map[string]struct{}, len(orderedIDs))
	var unknown []string
	for _, id := range orderedIDs {
		if _, duplicate := seen[id]; duplicate {
			return fmt.Errorf("%w: duplicate id %q in order", ErrValidation, id)
		}
		seen[id] = struct{}{}
		if _, ok := current[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: ids not in the sibling set: %s", ErrValidation, strings.Join(unknown, ", "))
	}
	if len(seen) != len(current) {
		return fmt.Errorf("%w: order lists %d of %d siblings", ErrValidation, len(seen), len(current))
	}
	return nil
}

func nextOrder(orders []int) int {
	if len(orders) == 0 {
		return 0
	}
	highest := orders[0]
	for _, order := range orders[1:] {
		highest = max(highest, order)
	}
	return highest + 1
}

func nextImageOrder(images []Image) int {
	orders := make([]int, 0, len(images))
	for _, image := range images {
		orders = append(orders, image.DisplayOrder)
	}
	return nextOrder(orders)
}

func sortImages(images []Image) {
	sort.SliceStable(images, func(i, j int) bool {
		left, right := images[i], images[j]
		if left.DisplayOrder != right.DisplayOrder {
			return left.DisplayOrder < right.DisplayOrder
		}
		if !left.CreatedAt.Equal(right.CreatedAt) {
			return left.CreatedAt.Before(right.CreatedAt)
		}
		return left.ID < right.ID
	})
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		left, right := entries[i], entries[j]
		if left.DisplayOrder != right.DisplayOrder {
			return left.DisplayOrder < right.DisplayOrder
		}
		if !left.CreatedAt.Equal(right.CreatedAt) {
			return left.CreatedAt.Before(right.CreatedAt)
		}
		return left.ID < right.ID
	})
}
