package project

import (
	"context"
	"mime/multipart"

	"github.com/feichai0017/timechange/internal/models"
)

// ProjectService is what the HTTP layer needs from a project.
type ProjectService interface {
	Name() string
	CSVLabels() []string
	ImageLabels() ([]string, error)
	TrainingFiles(label string) []string
	CheckUpload(header *multipart.FileHeader) error
	AddUpload(label string, header *multipart.FileHeader) error
	RemoveTrainingFile(label, filename string) error
	Columns(label, filename string) ([]string, error)

	TransformParameters() (models.TransformParameters, error)
	SetColumns(columns []string) error
	SetTransformParameters(params map[string]any) error
	ModelParameters() (models.ModelParameters, error)
	SetModelParameters(params map[string]any) error

	// Submit enqueues a job and returns its command id.
	Submit(ctx context.Context, job models.JobType) (string, error)
	// PollResult returns the next finished job or nil without waiting.
	PollResult(ctx context.Context) (*models.Result, error)
	WaitResult(ctx context.Context) (*models.Result, error)

	// History lists finished jobs newest first; empty without a journal.
	History(ctx context.Context, limit int) ([]models.Result, error)
	JobResult(ctx context.Context, id string) (*models.Result, error)
}

var _ ProjectService = (*Manager)(nil)
