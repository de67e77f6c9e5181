package session

import (
	"context"

	"github.com/mattjoyce/charlie/internal/history"
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/charlie/internal/session Recorder

// Recorder persists run metadata. *history.Store implements it.
type Recorder interface {
	Start(ctx context.Context, req history.StartRequest) (string, error)
	Finish(ctx context.Context, id string, req history.FinishRequest) error
}
