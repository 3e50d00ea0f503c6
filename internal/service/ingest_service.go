package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pai-context-go/internal/config"
	"pai-context-go/internal/decoder"
	"pai-context-go/internal/model"
	"pai-context-go/internal/pipeline"
	"pai-context-go/pkg/log"
	"pai-context-go/pkg/tasks"
)

// BatchRunner 执行一个摄取批次，*pipeline.Controller 实现了该接口。
type BatchRunner interface {
	Run(ctx context.Context, b pipeline.Batch) (*pipeline.Result, error)
}

// SourceResolver 按需创建数据源。
type SourceResolver interface {
	GetOrCreate(ctx context.Context, projectID string, sourceType model.SourceType, name string) (*model.Source, error)
}

// ObjectStore 保存载荷与快照。
type ObjectStore interface {
	Put(ctx context.Context, objectName string, data []byte, contentType string) error
	Get(ctx context.Context, objectName string) ([]byte, error)
	Remove(ctx context.Context, objectName string) error
}

// TaskProducer 投递异步摄取任务。
type TaskProducer interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// IngestRequest 是一次摄取请求。
type IngestRequest struct {
	ProjectID    string
	SourceType   model.SourceType
	SourceName   string
	ContentType  string
	Payload      []byte
	ForceRetrain bool
}

// IngestService 定义了摄取操作的接口。
type IngestService interface {
	// Ingest 同步执行摄取。配额耗尽时同时返回 Result 与 pipeline.ErrQuotaExceeded。
	Ingest(ctx context.Context, req IngestRequest) (*pipeline.Result, error)
	// Enqueue 把载荷存入对象存储并投递 Kafka 任务，返回对象名。
	Enqueue(ctx context.Context, req IngestRequest) (string, error)
	// Process 消费一个异步任务。
	Process(ctx context.Context, task tasks.IngestTask) error
}

type ingestService struct {
	runner   BatchRunner
	sources  SourceResolver
	store    ObjectStore
	producer TaskProducer
	cfg      config.IngestionConfig
}

// NewIngestService 创建一个新的 IngestService 实例。store 与 producer 可以为 nil，此时不写快照且不支持异步摄取。
func NewIngestService(runner BatchRunner, sources SourceResolver, store ObjectStore, producer TaskProducer, cfg config.IngestionConfig) IngestService {
	return &ingestService{runner: runner, sources: sources, store: store, producer: producer, cfg: cfg}
}

func (s *ingestService) validate(req IngestRequest) (decoder.PayloadKind, error) {
	if !req.SourceType.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSourceType, req.SourceType)
	}
	return decoder.ParseContentType(req.ContentType)
}

func (s *ingestService) Ingest(ctx context.Context, req IngestRequest) (*pipeline.Result, error) {
	kind, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	name := req.SourceName
	if name == "" {
		name = string(req.SourceType)
	}
	src, err := s.sources.GetOrCreate(ctx, req.ProjectID, req.SourceType, name)
	if err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}

	opts := []decoder.Option{decoder.WithMaxEntryBytes(s.cfg.MaxEntryBytes)}
	if req.SourceType == model.SourceRepoSnapshot {
		opts = append(opts, decoder.WithStripRootDir())
	}

	log.Infof("[IngestService] 开始摄取, project: %s, source: %s (%s), bytes: %d, kind: %s",
		req.ProjectID, src.ID, src.Type, len(req.Payload), kind)

	res, err := s.runner.Run(ctx, pipeline.Batch{
		ProjectID:     req.ProjectID,
		SourceID:      src.ID,
		ForceRetrain:  req.ForceRetrain,
		Payload:       req.Payload,
		Kind:          kind,
		Filter:        decoder.GlobFilter{Include: s.cfg.Include, Exclude: s.cfg.Exclude},
		DecodeOptions: opts,
	})
	if res != nil && res.State != pipeline.StateFailed {
		s.writeSnapshot(ctx, req.ProjectID, src.ID, res.Files)
	}
	return res, err
}

// writeSnapshot 把本批次文件写成有大小上限的压缩快照，失败只记日志。
func (s *ingestService) writeSnapshot(ctx context.Context, projectID, sourceID string, files []model.FileRecord) {
	if s.store == nil || len(files) == 0 || s.cfg.SnapshotMaxBytes <= 0 {
		return
	}
	data, n, err := decoder.EncodeCapped(files, s.cfg.SnapshotMaxBytes)
	if err != nil {
		log.Warnf("[IngestService] 生成快照失败, source: %s, error: %v", sourceID, err)
		return
	}
	objectName := fmt.Sprintf("snapshots/%s/%s/%d.json.gz", projectID, sourceID, time.Now().UnixMilli())
	if err := s.store.Put(context.WithoutCancel(ctx), objectName, data, "application/gzip"); err != nil {
		log.Warnf("[IngestService] 上传快照失败, object: %s, error: %v", objectName, err)
		return
	}
	log.Infof("[IngestService] 快照已保存, object: %s, files: %d/%d, bytes: %d", objectName, n, len(files), len(data))
}

func (s *ingestService) Enqueue(ctx context.Context, req IngestRequest) (string, error) {
	if s.store == nil || s.producer == nil {
		return "", ErrAsyncDisabled
	}
	if _, err := s.validate(req); err != nil {
		return "", err
	}
	if len(req.Payload) == 0 {
		return "", &decoder.Error{Code: decoder.CodeInvalidPayload, Reason: "empty payload"}
	}

	objectName := fmt.Sprintf("ingest/%s/%s", req.ProjectID, uuid.NewString())
	if err := s.store.Put(ctx, objectName, req.Payload, req.ContentType); err != nil {
		return "", err
	}
	task := tasks.IngestTask{
		ObjectName:   objectName,
		ProjectID:    req.ProjectID,
		SourceType:   string(req.SourceType),
		SourceName:   req.SourceName,
		ContentType:  req.ContentType,
		ForceRetrain: req.ForceRetrain,
	}
	if err := s.producer.ProduceIngestTask(ctx, task); err != nil {
		return "", fmt.Errorf("投递摄取任务失败: %w", err)
	}
	log.Infof("[IngestService] 异步摄取已入队, object: %s", objectName)
	return objectName, nil
}

func (s *ingestService) Process(ctx context.Context, task tasks.IngestTask) error {
	if s.store == nil {
		return ErrAsyncDisabled
	}
	payload, err := s.store.Get(ctx, task.ObjectName)
	if err != nil {
		return err
	}

	res, err := s.Ingest(ctx, IngestRequest{
		ProjectID:    task.ProjectID,
		SourceType:   model.SourceType(task.SourceType),
		SourceName:   task.SourceName,
		ContentType:  task.ContentType,
		Payload:      payload,
		ForceRetrain: task.ForceRetrain,
	})
	switch {
	case err == nil:
		log.Infof("[IngestService] 异步摄取完成, object: %s, outcome: %s, success: %d", task.ObjectName, res.Outcome, res.SuccessCount)
	case errors.Is(err, pipeline.ErrQuotaExceeded),
		errors.Is(err, decoder.ErrInvalidPayload),
		errors.Is(err, decoder.ErrUnsupportedContentType),
		errors.Is(err, ErrUnknownSourceType):
		// 重试不会改变结果
		log.Warnf("[IngestService] 异步摄取终止, object: %s, error: %v", task.ObjectName, err)
	default:
		return err
	}

	if err := s.store.Remove(context.WithoutCancel(ctx), task.ObjectName); err != nil {
		log.Warnf("[IngestService] 删除已处理的载荷失败, object: %s, error: %v", task.ObjectName, err)
	}
	return nil
}
