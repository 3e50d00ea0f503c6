// Package pipeline 实现摄取批次的调度与单文件索引。
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"pai-context-go/internal/decoder"
	"pai-context-go/internal/model"
	"pai-context-go/pkg/log"
)

// State 是批次所处的阶段。
type State string

const (
	StateDecoding    State = "DECODING"
	StateDispatching State = "DISPATCHING"
	StateDraining    State = "DRAINING"
	StateAborted     State = "ABORTED"
	StateFinalizing  State = "FINALIZING"
	StateFailed      State = "FAILED"
)

// Outcome 是批次对外可见的结果。
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeOKWithErrors  Outcome = "ok-with-errors"
	OutcomeQuotaExceeded Outcome = "quota-exceeded"
)

const defaultConcurrency = 5

// IndexRequest 是一次 Section Indexer 调用的输入。
type IndexRequest struct {
	File      model.FileRecord
	SourceID  string
	ProjectID string
	Checksum  string
}

// SectionIndexer 把一个文件切块、向量化并写入存储。
// 失败以错误列表返回，空列表表示成功。
type SectionIndexer interface {
	Index(ctx context.Context, req IndexRequest) []model.EmbeddingError
}

// ChecksumLedger 提供某个数据源已索引文件的摘要。
type ChecksumLedger interface {
	List(ctx context.Context, sourceID string) ([]model.Checksum, error)
}

// ViewRefresher 刷新基于分块的读优化视图。
type ViewRefresher interface {
	Refresh(ctx context.Context, views []string) error
}

// Batch 描述一次摄取。Files 为 nil 时先用 Kind/Filter 解码 Payload。
type Batch struct {
	ProjectID     string
	SourceID      string
	ForceRetrain  bool
	Payload       []byte
	Kind          decoder.PayloadKind
	Filter        decoder.Filter
	DecodeOptions []decoder.Option
	Files         []model.FileRecord
}

// Result 是批次结束时的汇总。
type Result struct {
	State        State
	Outcome      Outcome
	SuccessCount int
	Indexed      int
	Skipped      int
	Errors       []model.EmbeddingError
	Message      string
	// Files 是本批次解码出的全部记录，供快照使用。
	Files []model.FileRecord
}

// Controller 以有界并发把文件派发给 SectionIndexer。
type Controller struct {
	indexer     SectionIndexer
	ledger      ChecksumLedger
	refresher   ViewRefresher
	concurrency int
	views       []string
}

// Option 配置 Controller。
type Option func(*Controller)

// WithConcurrency 设置同时在途的 Index 调用上限，默认 5。
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		if n < 1 {
			n = 1
		}
		c.concurrency = n
	}
}

// WithRefresher 设置批次结束时要刷新的视图。
func WithRefresher(r ViewRefresher, views ...string) Option {
	return func(c *Controller) {
		c.refresher = r
		c.views = views
	}
}

// NewController 创建一个 Controller。
func NewController(indexer SectionIndexer, ledger ChecksumLedger, opts ...Option) (*Controller, error) {
	if indexer == nil {
		return nil, ErrIndexerRequired
	}
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	c := &Controller{
		indexer:     indexer,
		ledger:      ledger,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run 执行一个批次。解码失败时返回 StateFailed 和解码错误；
// 配额耗尽时返回完整的 Result 以及 ErrQuotaExceeded。
func (c *Controller) Run(ctx context.Context, b Batch) (*Result, error) {
	res := &Result{State: StateDecoding}

	files := b.Files
	if files == nil {
		decoded, err := decoder.Decode(b.Payload, b.Kind, b.Filter, b.DecodeOptions...)
		if err != nil {
			res.State = StateFailed
			return res, err
		}
		files = decoded
	}
	res.Files = files

	// 强制重建时完全绕过账本
	var ledger map[string]string
	if !b.ForceRetrain {
		entries, err := c.ledger.List(ctx, b.SourceID)
		if err != nil {
			res.State = StateFailed
			return res, fmt.Errorf("读取校验和账本失败: %w", err)
		}
		ledger = ledgerIndex(entries)
	}

	pool, err := ants.NewPool(c.concurrency)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("创建工作池失败: %w", err)
	}
	defer pool.Release()

	log.Infof("[Controller] 开始派发, source: %s, files: %d, forceRetrain: %t, concurrency: %d",
		b.SourceID, len(files), b.ForceRetrain, c.concurrency)

	var (
		wg      sync.WaitGroup
		indexed atomic.Int64
		skipped int
		aborted atomic.Bool
		acc     = newAccumulator()
	)

	res.State = StateDispatching
	for _, f := range files {
		if aborted.Load() {
			break
		}
		sum := Checksum(f.Content)
		if shouldSkip(ledger, f.Path, sum) {
			skipped++
			continue
		}

		req := IndexRequest{File: f, SourceID: b.SourceID, ProjectID: b.ProjectID, Checksum: sum}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			// 排队期间批次可能已被终止
			if aborted.Load() {
				return
			}
			errs := c.indexer.Index(ctx, req)
			if len(errs) == 0 {
				indexed.Add(1)
				return
			}
			if acc.add(req.File.Path, errs) {
				aborted.Store(true)
			}
		})
		if submitErr != nil {
			wg.Done()
			log.Errorf("[Controller] 提交任务失败, path: %s, error: %v", f.Path, submitErr)
			acc.add(f.Path, []model.EmbeddingError{{ID: model.ErrorDispatch, Path: f.Path, Message: submitErr.Error()}})
		}
	}

	if aborted.Load() {
		res.State = StateAborted
	} else {
		res.State = StateDraining
	}
	wg.Wait()

	res.State = StateFinalizing
	if c.refresher != nil && len(c.views) > 0 {
		// 即使请求已被取消也要刷新，已写入的分块需要对检索可见
		if err := c.refresher.Refresh(context.WithoutCancel(ctx), c.views); err != nil {
			log.Warnf("[Controller] 刷新视图失败, views: %v, error: %v", c.views, err)
		}
	}

	res.Indexed = int(indexed.Load())
	res.Skipped = skipped
	res.SuccessCount = res.Indexed + res.Skipped
	res.Errors = acc.flatten()
	res.Message = buildMessage(res.SuccessCount, res.Errors)

	switch {
	case acc.quotaExceeded():
		res.Outcome = OutcomeQuotaExceeded
	case len(res.Errors) > 0:
		res.Outcome = OutcomeOKWithErrors
	default:
		res.Outcome = OutcomeOK
	}

	log.Infof("[Controller] 批次结束, source: %s, outcome: %s, indexed: %d, skipped: %d, errors: %d",
		b.SourceID, res.Outcome, res.Indexed, res.Skipped, len(res.Errors))

	if res.Outcome == OutcomeQuotaExceeded {
		return res, ErrQuotaExceeded
	}
	return res, nil
}

// buildMessage 生成对外的汇总文本，调用方可能按纯文本解析，格式需保持稳定。
func buildMessage(successCount int, errs []model.EmbeddingError) string {
	noun := "files"
	if successCount == 1 {
		noun = "file"
	}
	msg := fmt.Sprintf("Successfully processed %d %s.", successCount, noun)
	if len(errs) == 0 {
		return msg
	}

	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		lines = append(lines, fmt.Sprintf("* In '%s': %s", e.Path, e.Message))
	}
	return msg + "\n\nThe following errors occurred:\n" + strings.Join(lines, "\n")
}

// accumulator 按首次出现的顺序收集每个文件的错误。
type accumulator struct {
	mu     sync.Mutex
	order  []string
	byPath map[string][]model.EmbeddingError
	quota  bool
}

func newAccumulator() *accumulator {
	return &accumulator{byPath: make(map[string][]model.EmbeddingError)}
}

// add 记录错误，返回本次是否包含 QUOTA_EXCEEDED。
func (a *accumulator) add(path string, errs []model.EmbeddingError) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.byPath[path]; !ok {
		a.order = append(a.order, path)
	}
	quota := false
	for _, e := range errs {
		if e.Path == "" {
			e.Path = path
		}
		if e.ID == model.ErrorQuotaExceeded {
			quota = true
		}
		a.byPath[path] = append(a.byPath[path], e)
	}
	if quota {
		a.quota = true
	}
	return quota
}

func (a *accumulator) quotaExceeded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quota
}

func (a *accumulator) flatten() []model.EmbeddingError {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.EmbeddingError, 0, len(a.order))
	for _, p := range a.order {
		out = append(out, a.byPath[p]...)
	}
	return out
}
