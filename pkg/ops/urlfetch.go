package ops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gridwell/gridwell/pkg/changes"
	"github.com/gridwell/gridwell/pkg/expr"
	"github.com/gridwell/gridwell/pkg/fetch"
	"github.com/gridwell/gridwell/pkg/grid"
	"github.com/gridwell/gridwell/pkg/history"
	"github.com/gridwell/gridwell/pkg/process"
)

// OnError selects how a unit's fetch failure is handled. The policy is
// evaluated per unit, never globally.
type OnError string

const (
	// OnErrorStoreError stores the failure as a typed error cell and
	// continues.
	OnErrorStoreError OnError = "store-error"

	// OnErrorSetBlank treats the failure as no value and continues.
	OnErrorSetBlank OnError = "set-blank"

	// OnErrorFail aborts the whole process on the first failure.
	OnErrorFail OnError = "fail"
)

// urlChangeDataID is the data ID URL-fetch change data is stored under.
const urlChangeDataID = "urls"

// URLFetchType tags URL-fetch operations in history entries.
const URLFetchType = "column-addition-by-fetching-urls"

// URLFetchConfig configures a column addition by fetching one URL per row.
type URLFetchConfig struct {
	BaseColumnName    string         `json:"baseColumnName"`
	URLExpression     string         `json:"urlExpression"`
	OnError           OnError        `json:"onError"`
	NewColumnName     string         `json:"newColumnName"`
	ColumnInsertIndex int            `json:"columnInsertIndex"`
	DelayMillis       int            `json:"delay"`
	CacheResponses    bool           `json:"cacheResponses"`
	HTTPHeaders       []fetch.Header `json:"httpHeaders,omitempty"`
}

// URLFetchOperation adds a column by fetching URLs generated by an
// expression evaluated against each row.
type URLFetchOperation struct {
	cfg URLFetchConfig
}

// NewURLFetchOperation validates the configuration and builds the
// operation.
func NewURLFetchOperation(cfg URLFetchConfig) (*URLFetchOperation, error) {
	if err := validateURLFetchConfig(cfg); err != nil {
		return nil, err
	}
	return &URLFetchOperation{cfg: cfg}, nil
}

// Config returns the operation's configuration.
func (op *URLFetchOperation) Config() URLFetchConfig { return op.cfg }

// Description implements Operation.
func (op *URLFetchOperation) Description() string {
	return fmt.Sprintf("Create column %s at index %d by fetching URLs based on column %s using expression %s",
		op.cfg.NewColumnName, op.cfg.ColumnInsertIndex, op.cfg.BaseColumnName, op.cfg.URLExpression)
}

// CreateProcess implements Operation. The URL expression is compiled up
// front; schema problems surface as a failed process, mirroring where the
// grid state is first read.
func (op *URLFetchOperation) CreateProcess(env Env) (*process.Process, error) {
	env = env.withDefaults()

	compiler, err := expr.NewCompiler()
	if err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(op.cfg.URLExpression)
	if err != nil {
		return nil, fmt.Errorf("url expression: %w", err)
	}

	entryID := env.History.AllocateID()
	task := func(ctx context.Context, p *process.Process) error {
		return op.run(ctx, p, env, compiled, entryID)
	}
	return env.Manager.Launch(op.Description(), task), nil
}

func (op *URLFetchOperation) run(ctx context.Context, p *process.Process, env Env, compiled *expr.CompiledExpr, entryID uint64) error {
	model := env.Source.ColumnModel()
	cellIndex, err := model.IndexByName(op.cfg.BaseColumnName)
	if err != nil {
		return err
	}
	if model.ColumnByName(op.cfg.NewColumnName) != nil {
		return fmt.Errorf("another column already named %s", op.cfg.NewColumnName)
	}

	producer := newURLFetchProducer(op.cfg, cellIndex, compiled)

	cds := env.History.ChangeDataStore()
	writer, err := cds.NewWriter(entryID, urlChangeDataID)
	if err != nil {
		return err
	}
	sink := changes.NewSerializingSink(writer, env.Codec)

	err = changes.Compute(ctx, env.Source, producer, sink, changes.ComputeOptions{
		Progress: p.ReportProgress,
		Logger:   env.Logger,
	})
	if errors.Is(err, changes.ErrCanceled) {
		writer.Abort()
		if derr := cds.DiscardAll(entryID); derr != nil {
			env.Logger.Error("discard after cancel", "entry_id", entryID, "error", derr)
		}
		return process.ErrCanceled
	}
	if err != nil {
		// A failed run never seals the container; the partial data is
		// dropped rather than kept for diagnosis.
		writer.Abort()
		return err
	}

	// Cancellation may have arrived after the last batch finished. A
	// canceled process must not append history.
	if ctx.Err() != nil {
		writer.Abort()
		if derr := cds.DiscardAll(entryID); derr != nil {
			env.Logger.Error("discard after cancel", "entry_id", entryID, "error", derr)
		}
		return process.ErrCanceled
	}

	if err := writer.Complete(); err != nil {
		return err
	}

	entry := history.Entry{
		ID:          entryID,
		Description: op.Description(),
		Operation: history.OperationRef{
			Type:   URLFetchType,
			Config: mustMarshalConfig(op.cfg),
		},
		Data: history.DataRef{
			DataID:            urlChangeDataID,
			NewColumnName:     op.cfg.NewColumnName,
			ColumnInsertIndex: op.cfg.ColumnInsertIndex,
			MergeMode:         changes.RowBased.String(),
			Serializer:        env.Codec.Name(),
		},
	}
	return env.History.AddEntry(entry)
}

// urlFetchProducer computes one cell per row by evaluating the URL
// expression and fetching the result. It is constructed per run from plain
// configuration; the client and cache are built at process start, not
// captured lazily.
type urlFetchProducer struct {
	changes.ProducerDefaults

	onError        OnError
	cellIndex      int
	maxConcurrency int
	compiled       *expr.CompiledExpr
	client         *fetch.Client
	cache          *fetch.LoadingCache
}

func newURLFetchProducer(cfg URLFetchConfig, cellIndex int, compiled *expr.CompiledExpr) *urlFetchProducer {
	client := fetch.NewClient(time.Duration(cfg.DelayMillis)*time.Millisecond, cfg.HTTPHeaders)
	p := &urlFetchProducer{
		onError:   cfg.OnError,
		cellIndex: cellIndex,
		compiled:  compiled,
		client:    client,
	}
	if cfg.CacheResponses {
		p.cache = fetch.NewLoadingCache(fetch.DefaultCacheSize, fetch.DefaultCacheTTL, client.Get)
	}
	return p
}

// Compute implements changes.Producer.
func (p *urlFetchProducer) Compute(ctx context.Context, u grid.Unit, model *grid.ColumnModel) changes.Result[*grid.Cell] {
	bindings := expr.Bindings(u, model, p.cellIndex)
	v := expr.Eval(p.compiled, bindings)
	if evalErr, ok := v.(*expr.EvalError); ok {
		return p.failed(evalErr)
	}
	if v == nil {
		return changes.Absent[*grid.Cell]()
	}
	url := fmt.Sprintf("%v", v)
	if url == "" {
		return changes.Absent[*grid.Cell]()
	}

	var response string
	var err error
	if p.cache != nil {
		response, err = p.cache.Get(ctx, url)
	} else {
		response, err = p.client.Get(ctx, url)
	}
	if err != nil {
		// An interrupted throttle wait is a cancellation artifact, not a
		// unit outcome; it must never be stored under any policy.
		if errors.Is(err, fetch.ErrInterrupted) {
			return changes.Failure[*grid.Cell](err)
		}
		return p.failed(err)
	}
	return changes.Value(grid.NewCell(response))
}

func (p *urlFetchProducer) failed(err error) changes.Result[*grid.Cell] {
	switch p.onError {
	case OnErrorStoreError:
		return changes.Value(grid.NewErrorCell(err))
	case OnErrorSetBlank:
		return changes.Absent[*grid.Cell]()
	default:
		return changes.Failure[*grid.Cell](err)
	}
}

// MaxConcurrency implements changes.Producer.
func (p *urlFetchProducer) MaxConcurrency() int { return p.maxConcurrency }
