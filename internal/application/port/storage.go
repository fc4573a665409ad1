package port

import (
	"context"

	"github.com/garyjia/approval-workflow/internal/domain/entity"
)

// FileStorage defines file storage operations
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	GetFullPath(relativePath string) string
}

// StatisticsRenderer turns approver statistics into a downloadable report
type StatisticsRenderer interface {
	RenderStatistics(stats []*entity.ApproverStats) ([]byte, error)
	// Extension is the file extension of rendered reports, including the dot
	Extension() string
}
