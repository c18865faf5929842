package merge

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/api"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/localstore"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/metrics"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/remote"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	errMissingLocal  = errors.New("local source is required")
	errMissingRemote = errors.New("remote source is required")
)

// LocalSource is the part of the local store the engine reads.
type LocalSource interface {
	LoadAll(ctx context.Context, entityName string, opts localstore.LoadOptions) (entities.Page, error)
	WatchAll(ctx context.Context, entityName string, opts localstore.LoadOptions) (<-chan stream.Event[entities.Page], error)
}

// RemoteSource is the part of the gateway the engine reads.
type RemoteSource interface {
	Query(ctx context.Context, query remote.Query) (entities.Page, error)
	WatchQuery(ctx context.Context, query remote.Query) (<-chan stream.Event[entities.Page], error)
}

// Request is one list request.
type Request struct {
	EntityName string
	// QueryName identifies the remote query for refetch and cache patches.
	QueryName     string
	Offset        int
	Size          int
	SortBy        string
	SortDirection string
	Filter        entities.Filter
	FetchPolicy   remote.FetchPolicy
}

// Result is one merged page.
type Result struct {
	Data  []entities.Entity
	Total int
	// Offline is set when the network was unavailable at planning time.
	Offline bool
	// Online is set when the remote source contributed to the page.
	Online bool
}

// EngineConfig wires the engine.
type EngineConfig struct {
	Local   LocalSource
	Remote  RemoteSource
	Network remote.NetworkStatus
	Logger  *zap.Logger
}

// Engine serves merged list requests.
type Engine struct {
	local   LocalSource
	remote  RemoteSource
	network remote.NetworkStatus
	logger  *zap.Logger
}

// NewEngine validates cfg and constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Local == nil {
		return nil, errMissingLocal
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{local: cfg.Local, remote: cfg.Remote, network: cfg.Network, logger: logger}, nil
}

func (e *Engine) plan(request Request) (Plan, bool) {
	online := e.network == nil || e.network.IsOnline()
	plan := PlanSources(request.Filter, online)
	metrics.RecordMergeRequest(request.EntityName, plan.Mode())
	e.logger.Debug("merge plan",
		zap.String("entity_name", request.EntityName),
		zap.String("mode", plan.Mode()),
		zap.Bool("online", online))
	return plan, online
}

// Load answers request once, reading the planned sources concurrently.
func (e *Engine) Load(ctx context.Context, request Request) (Result, error) {
	plan, online := e.plan(request)

	var localPage, remotePage entities.Page
	group, groupCtx := errgroup.WithContext(ctx)
	if plan.Local {
		group.Go(func() error {
			page, err := e.local.LoadAll(groupCtx, request.EntityName, request.localOptions(plan.LocalFilter))
			localPage = page
			return err
		})
	}
	if plan.Remote {
		group.Go(func() error {
			page, err := e.remote.Query(groupCtx, request.remoteQuery(plan.RemoteFilter))
			remotePage = page
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, err
	}

	var pages []entities.Page
	if plan.Local {
		pages = append(pages, localPage)
	}
	if plan.Remote {
		pages = append(pages, remotePage)
	}
	return combine(pages, !online, plan.Remote), nil
}

// Watch answers request with a live stream. Every emission of either source
// recomputes the page; an error from either source is emitted and ends the
// stream.
func (e *Engine) Watch(ctx context.Context, request Request) (<-chan stream.Event[Result], error) {
	plan, online := e.plan(request)
	ctx, cancel := context.WithCancel(ctx)

	var localEvents, remoteEvents <-chan stream.Event[entities.Page]
	var err error
	if plan.Local {
		localEvents, err = e.local.WatchAll(ctx, request.EntityName, request.localOptions(plan.LocalFilter))
		if err != nil {
			cancel()
			return nil, err
		}
	}
	if plan.Remote {
		remoteEvents, err = e.remote.WatchQuery(ctx, request.remoteQuery(plan.RemoteFilter))
		if err != nil {
			cancel()
			return nil, err
		}
	}

	out := make(chan stream.Event[Result], 1)
	go func() {
		defer close(out)
		defer cancel()

		var localPage, remotePage *entities.Page
		for localEvents != nil || remoteEvents != nil {
			var event stream.Event[entities.Page]
			var ok bool
			select {
			case <-ctx.Done():
				return
			case event, ok = <-localEvents:
				if !ok {
					localEvents = nil
					continue
				}
				page := event.Value
				localPage = &page
			case event, ok = <-remoteEvents:
				if !ok {
					remoteEvents = nil
					continue
				}
				page := event.Value
				remotePage = &page
			}

			if event.Err != nil {
				e.logger.Warn("merged watch failed", zap.String("entity_name", request.EntityName), zap.Error(event.Err))
				emit(ctx, out, stream.Event[Result]{Err: event.Err})
				return
			}
			if (plan.Local && localPage == nil) || (plan.Remote && remotePage == nil) {
				continue
			}
			var pages []entities.Page
			if localPage != nil {
				pages = append(pages, *localPage)
			}
			if remotePage != nil {
				pages = append(pages, *remotePage)
			}
			if !emit(ctx, out, stream.Event[Result]{Value: combine(pages, !online, plan.Remote)}) {
				return
			}
		}
	}()
	return out, nil
}

func emit(ctx context.Context, out chan<- stream.Event[Result], event stream.Event[Result]) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// combine concatenates pages in order and sums their totals, falling back to
// the page length when a source gave no total.
func combine(pages []entities.Page, offline, online bool) Result {
	result := Result{Data: []entities.Entity{}, Offline: offline, Online: online}
	for _, page := range pages {
		result.Data = append(result.Data, page.Data...)
		result.Total += page.Count()
	}
	return result
}

func (r Request) localOptions(filter entities.Filter) localstore.LoadOptions {
	return localstore.LoadOptions{
		Offset:        r.Offset,
		Size:          r.Size,
		SortBy:        r.SortBy,
		SortDirection: r.SortDirection,
		Filter:        filter.Matches,
	}
}

func (r Request) remoteQuery(filter entities.Filter) remote.Query {
	name := r.QueryName
	if name == "" {
		name = r.EntityName + "s"
	}
	policy := r.FetchPolicy
	if policy == "" {
		policy = remote.NetworkOnly
	}
	return remote.Query{
		Name:       name,
		EntityName: r.EntityName,
		Variables: api.QueryRequest{
			Offset:        r.Offset,
			Size:          r.Size,
			SortBy:        r.SortBy,
			SortDirection: r.SortDirection,
			Filter:        filter,
		},
		FetchPolicy: policy,
	}
}
