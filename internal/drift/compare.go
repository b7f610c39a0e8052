package drift

import "context"

// Comparer diffs stored snapshots on demand without persisting anything.
type Comparer struct {
	store  Store
	logger Logger
}

func NewComparer(store Store, logger Logger) *Comparer {
	return &Comparer{store: store, logger: logger}
}

// CompareSnapshots loads two snapshots of an endpoint and returns their diff.
func (c *Comparer) CompareSnapshots(ctx context.Context, endpointID, fromID, toID string) (*DiffResult, error) {
	from, err := c.load(ctx, endpointID, fromID)
	if err != nil {
		return nil, err
	}
	to, err := c.load(ctx, endpointID, toID)
	if err != nil {
		return nil, err
	}

	result := Compare(from, to)
	c.logger.Debug("snapshots compared", "endpoint", endpointID, "from", fromID, "to", toID, "changes", result.Summary.Total)
	return result, nil
}

func (c *Comparer) load(ctx context.Context, endpointID, id string) (*Snapshot, error) {
	s, err := c.store.GetSnapshot(ctx, endpointID, id)
	if err != nil {
		return nil, &StorageError{Op: "get snapshot", Err: err}
	}
	if s == nil {
		return nil, &NotFoundError{Kind: "snapshot", ID: id}
	}
	return s, nil
}
