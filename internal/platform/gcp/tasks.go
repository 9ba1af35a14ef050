package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/yamabiko/tabiroku-backend/internal/platform/logger"
	"github.com/yamabiko/tabiroku-backend/internal/types"
)

// TaskQueue hands transcode jobs to a durable queue that POSTs them back at
// the worker with at-least-once delivery and its own retry/backoff policy.
type TaskQueue interface {
	EnqueueTranscode(ctx context.Context, job types.TranscodeJob) error
}

type TaskQueueConfig struct {
	ProjectID       string
	LocationID      string
	QueueID         string
	TargetURL       string
	InvokerSA       string
	DispatchTimeout time.Duration
}

type taskQueue struct {
	log    *logger.Logger
	client *cloudtasks.Client
	cfg    TaskQueueConfig
}

func NewTaskQueue(log *logger.Logger, cfg TaskQueueConfig) (TaskQueue, error) {
	serviceLog := log.With("service", "TaskQueue")
	if cfg.ProjectID == "" || cfg.LocationID == "" || cfg.QueueID == "" {
		return nil, fmt.Errorf("task queue project/location/queue are required")
	}
	if cfg.TargetURL == "" {
		return nil, fmt.Errorf("task queue target URL is required")
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 15 * time.Minute
	}
	client, err := cloudtasks.NewClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud tasks client: %w", err)
	}
	return &taskQueue{log: serviceLog, client: client, cfg: cfg}, nil
}

func (tq *taskQueue) queuePath() string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s", tq.cfg.ProjectID, tq.cfg.LocationID, tq.cfg.QueueID)
}

func (tq *taskQueue) EnqueueTranscode(ctx context.Context, job types.TranscodeJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("refusing to enqueue malformed job: %w", err)
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal transcode job: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req := &taskspb.CreateTaskRequest{
		Parent: tq.queuePath(),
		Task: &taskspb.Task{
			DispatchDeadline: durationpb.New(tq.cfg.DispatchTimeout),
			MessageType: &taskspb.Task_HttpRequest{
				HttpRequest: &taskspb.HttpRequest{
					HttpMethod: taskspb.HttpMethod_POST,
					Url:        tq.cfg.TargetURL,
					Headers:    map[string]string{"Content-Type": "application/json"},
					Body:       body,
					AuthorizationHeader: &taskspb.HttpRequest_OidcToken{
						OidcToken: &taskspb.OidcToken{ServiceAccountEmail: tq.cfg.InvokerSA},
					},
				},
			},
		},
	}
	if _, err := tq.client.CreateTask(ctx, req); err != nil {
		return fmt.Errorf("create task for asset %s: %w", job.AssetID, err)
	}
	tq.log.Info("Enqueued transcode task", "assetId", job.AssetID, "rawPath", job.RawPath)
	return nil
}
