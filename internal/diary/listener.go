package diary

import (
	"context"

	"go.uber.org/zap"

	"github.com/conduit-lang/objgraph/internal/commit"
)

// Logger logs every diary entry created
type Logger struct {
	logger *zap.Logger
}

// NewLogger creates the listener
func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// CommitCompleted implements commit.Listener
func (l *Logger) CommitCompleted(ctx context.Context, n commit.Notification) error {
	for _, e := range n.Created {
		if e.Type != "Entry" {
			continue
		}
		user, _ := e.Get("user_name")
		title, _ := e.Get("title")
		l.logger.Info("diary entry created",
			zap.Any("user", user),
			zap.Any("title", title),
			zap.Int64("id", e.ID))
	}
	return nil
}
