package api

import (
	"context"
	"os"

	"github.com/lucasmv/chatvault/internal/archive"
	"github.com/lucasmv/chatvault/internal/importer"
	"github.com/lucasmv/chatvault/internal/jobs"
)

// JobService runs bundle imports asynchronously and exposes their progress.
type JobService struct {
	runner  *jobs.Runner
	imports *ImportService
}

// NewJobService creates a job service on top of the shared import pipeline.
func NewJobService(runner *jobs.Runner, imports *ImportService) *JobService {
	return &JobService{runner: runner, imports: imports}
}

// StartImport queues a staged bundle for background import and returns the
// job id to poll. The staged file is consumed: it is removed when the job
// finishes, on success and failure alike.
func (s *JobService) StartImport(ctx context.Context, ownerID, bundlePath string, targetChatID int64) (string, error) {
	if ownerID == "" {
		return "", validationf("owner id is required")
	}
	if _, err := os.Stat(bundlePath); err != nil {
		return "", validationf("staged bundle unreadable: %v", err)
	}

	jobID := s.runner.Submit(ctx, ownerID, s.pipeline(ownerID, bundlePath, targetChatID))
	return jobID, nil
}

// GetStatus returns a snapshot of a job, scoped to its owner.
func (s *JobService) GetStatus(_ context.Context, ownerID, jobID string) (*jobs.Status, error) {
	if ownerID == "" {
		return nil, validationf("owner id is required")
	}
	return s.runner.Status(jobID, ownerID)
}

func (s *JobService) pipeline(ownerID, bundlePath string, targetChatID int64) jobs.Pipeline {
	imp := s.imports
	return jobs.PipelineFunc(func(ctx context.Context, advance func(jobs.Stage) error) (*importer.Stats, error) {
		defer func() { _ = os.Remove(bundlePath) }()

		if err := advance(jobs.Extracting); err != nil {
			return nil, err
		}
		b, err := archive.OpenFile(ctx, bundlePath, imp.archiveOptions(), imp.logger)
		if err != nil {
			return nil, err
		}
		defer func() { _ = b.Close() }()

		if err := advance(jobs.Parsing); err != nil {
			return nil, err
		}
		parsed, _, err := imp.collate(b)
		if err != nil {
			return nil, err
		}

		if err := advance(jobs.Importing); err != nil {
			return nil, err
		}
		return imp.importer.Import(ctx, &importer.Request{
			OwnerID:      ownerID,
			Transcripts:  parsed,
			Media:        b.Media,
			TargetChatID: targetChatID,
		})
	})
}
