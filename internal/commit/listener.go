package commit

import (
	"context"

	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/auth"
	"github.com/conduit-lang/objgraph/internal/orm/entity"
)

// Notification describes a committed batch. Deleted entities carry the
// state they had when they were removed.
type Notification struct {
	BatchID   string
	Principal *auth.Principal
	Created   []*entity.Entity
	Updated   []*entity.Entity
	Deleted   []*entity.Entity
}

// Listener is told about every successful commit
type Listener interface {
	CommitCompleted(ctx context.Context, n Notification) error
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ctx context.Context, n Notification) error

// CommitCompleted implements Listener
func (f ListenerFunc) CommitCompleted(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// notify runs every listener. The batch is already committed, so failures
// are logged and otherwise ignored.
func (o *Orchestrator) notify(ctx context.Context, logger *zap.Logger, n Notification) {
	for _, l := range o.listeners {
		if err := l.CommitCompleted(ctx, n); err != nil {
			logger.Warn("commit listener failed", zap.Error(err))
		}
	}
}
