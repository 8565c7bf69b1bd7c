package broker

import (
	"context"

	"ddsrecorder/pkg/models"
)

// SampleHandler receives one data sample from the bus.
type SampleHandler func(ctx context.Context, envelope *models.SampleEnvelope) error

// SchemaHandler receives one type announcement from the bus.
type SchemaHandler func(ctx context.Context, announcement *models.TypeAnnouncement) error

// Source feeds the recorder from a message bus. Run blocks until the context
// is canceled.
type Source interface {
	Run(ctx context.Context) error
	Close() error
}
