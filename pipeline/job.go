package pipeline

import (
	"context"
	"fmt"

	"github.com/airbusgeo/ewoc-classif/common"
	"github.com/airbusgeo/ewoc-classif/service"
	"github.com/airbusgeo/ewoc-classif/service/log"
)

// RequestFromJob converts the payload of a job
func RequestFromJob(job common.BlockJob) Request {
	req := NewRequest(job.Tile, job.ProductionID, job.Detector, job.Year, job.Season)
	if job.Models != (common.Models{}) {
		req.Models = job.Models
	}
	req.Blocks = job.Blocks
	req.Inputs = job.Inputs
	req.UseExistingFeatures = job.UseExistingFeatures
	req.UploadLogs = job.UploadLogs
	return req
}

// RunJob runs a job: the mosaic of a tile, a single block or a list of blocks
func (p *Pipeline) RunJob(ctx context.Context, job common.BlockJob) error {
	if job.Tile == "" || job.ProductionID == "" {
		return service.MakeConfigurationError(fmt.Errorf("RunJob: invalid job %s: missing tile or production id", job.ID))
	}
	ctx = log.With(ctx, "job", job.ID)
	req := RequestFromJob(job)
	q := *p
	if !job.NotifyCatalog {
		q.Notifier = nil
	}
	switch {
	case job.Mosaic:
		return q.GenerateProducts(ctx, req)
	case len(job.Blocks) == 1:
		_, err := q.GenerateBlock(ctx, req, job.Blocks[0])
		return err
	}
	return q.RunClassif(ctx, req)
}
