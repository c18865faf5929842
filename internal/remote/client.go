package remote

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/api"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

var (
	errMissingTransport = errors.New("transport is required")
	errMissingRegistry  = errors.New("entity registry is required")
	noOpLogger          = zap.NewNop()
)

// Transport moves queries and mutations to the server.
type Transport interface {
	Query(ctx context.Context, entityName string, request api.QueryRequest) (api.QueryResponse, error)
	Mutate(ctx context.Context, operation string, request api.MutationRequest) (api.MutationResponse, error)
}

type alwaysOnline struct{}

func (alwaysOnline) IsOnline() bool { return true }

// ClientConfig wires the gateway client.
type ClientConfig struct {
	Transport Transport
	Registry  *entities.Registry
	// Network defaults to always online.
	Network NetworkStatus
	Logger  *zap.Logger
}

// Client implements Gateway over a Transport.
type Client struct {
	transport Transport
	registry  *entities.Registry
	network   NetworkStatus
	logger    *zap.Logger

	watches *stream.Registry[stream.Event[entities.Page]]

	mu      sync.Mutex
	watched map[string]Query
	cache   map[string]cachedPage
}

type cachedPage struct {
	query Query
	page  entities.Page
}

// NewClient validates cfg and constructs a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	network := cfg.Network
	if network == nil {
		network = alwaysOnline{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{
		transport: cfg.Transport,
		registry:  cfg.Registry,
		network:   network,
		logger:    logger,
		watches:   stream.NewRegistry[stream.Event[entities.Page]](),
		watched:   make(map[string]Query),
		cache:     make(map[string]cachedPage),
	}, nil
}

// Query runs a list query according to its fetch policy.
func (c *Client) Query(ctx context.Context, query Query) (entities.Page, error) {
	key, err := query.key()
	if err != nil {
		return entities.Page{}, err
	}
	if query.FetchPolicy == CacheFirst || query.FetchPolicy == "" {
		c.mu.Lock()
		cached, ok := c.cache[key]
		c.mu.Unlock()
		if ok {
			return copyPage(cached.page), nil
		}
	}
	page, err := c.fetch(ctx, query)
	if err != nil {
		return entities.Page{}, err
	}
	if query.FetchPolicy != NoCache {
		c.mu.Lock()
		c.cache[key] = cachedPage{query: query, page: copyPage(page)}
		c.mu.Unlock()
	}
	return page, nil
}

// WatchQuery subscribes to a live query. Consumers of the same query share one
// server round trip; results refresh on refetch and cache patches.
func (c *Client) WatchQuery(ctx context.Context, query Query) (<-chan stream.Event[entities.Page], error) {
	key, err := query.key()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.watched[key] = query
	c.mu.Unlock()

	subject, release := c.watches.Subscribe(key, func(producerCtx context.Context, subject *stream.Subject[stream.Event[entities.Page]]) {
		page, err := c.fetch(producerCtx, query)
		if producerCtx.Err() != nil {
			return
		}
		subject.Next(stream.Event[entities.Page]{Value: page, Err: err})
	})
	events := subject.Subscribe(ctx)
	go func() {
		<-ctx.Done()
		release()
		if c.watches.RefCount(key) == 0 {
			c.mu.Lock()
			delete(c.watched, key)
			c.mu.Unlock()
		}
	}()
	return events, nil
}

// Refetch re-runs every live and cached query named in names.
func (c *Client) Refetch(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	type target struct {
		query   Query
		subject *stream.Subject[stream.Event[entities.Page]]
	}
	var targets []target
	c.watches.Each(func(key string, subject *stream.Subject[stream.Event[entities.Page]]) {
		c.mu.Lock()
		query, ok := c.watched[key]
		c.mu.Unlock()
		if ok && slices.Contains(names, query.Name) {
			targets = append(targets, target{query: query, subject: subject})
		}
	})

	c.mu.Lock()
	for key, cached := range c.cache {
		if slices.Contains(names, cached.query.Name) {
			delete(c.cache, key)
		}
	}
	c.mu.Unlock()

	var firstErr error
	for _, t := range targets {
		page, err := c.fetch(ctx, t.query)
		if err != nil {
			c.logger.Warn("refetch failed", zap.String("query", t.query.Name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		t.subject.Next(stream.Event[entities.Page]{Value: page})
	}
	return firstErr
}

// Mutate runs plan: one server call, then cache patches and refetches.
func (c *Client) Mutate(ctx context.Context, plan MutationPlan) (MutationResult, error) {
	result, err := c.mutate(ctx, plan)
	if err != nil {
		if plan.ErrorCode != 0 {
			return MutationResult{}, apperr.Wrap(plan.ErrorCode, err)
		}
		return MutationResult{}, err
	}

	c.applyPatches(plan, result.Entities)

	if len(plan.RefetchQueries) > 0 && !result.Offline {
		if plan.AwaitRefetchQueries {
			if err := c.Refetch(ctx, plan.RefetchQueries); err != nil {
				c.logger.Warn("awaited refetch failed", zap.String("operation", plan.Operation), zap.Error(err))
			}
		} else {
			go func(names []string) {
				_ = c.Refetch(context.Background(), names)
			}(slices.Clone(plan.RefetchQueries))
		}
	}
	return result, nil
}

func (c *Client) mutate(ctx context.Context, plan MutationPlan) (MutationResult, error) {
	if !c.network.IsOnline() {
		if plan.OfflineResponse != nil {
			return MutationResult{Entities: plan.OfflineResponse, Offline: true}, nil
		}
		return MutationResult{}, ErrOffline
	}

	request := api.MutationRequest{
		EntityName:    plan.EntityName,
		IDs:           plan.IDs,
		QualityFlagID: plan.QualityFlagID,
	}
	for _, entity := range plan.Entities {
		raw, err := entities.Marshal(entity)
		if err != nil {
			return MutationResult{}, fmt.Errorf("remote: encode %s: %w", plan.EntityName, err)
		}
		request.Entities = append(request.Entities, raw)
	}

	response, err := c.transport.Mutate(ctx, plan.Operation, request)
	if err != nil {
		c.logger.Error("mutation failed",
			zap.String("operation", plan.Operation),
			zap.String("entity_name", plan.EntityName),
			zap.Error(err))
		return MutationResult{}, err
	}
	decoded, err := c.decodeAll(plan.EntityName, response.Data)
	if err != nil {
		return MutationResult{}, err
	}
	return MutationResult{Entities: decoded}, nil
}

func (c *Client) fetch(ctx context.Context, query Query) (entities.Page, error) {
	if !c.network.IsOnline() {
		return entities.Page{}, ErrOffline
	}
	response, err := c.transport.Query(ctx, query.EntityName, query.Variables)
	if err != nil {
		return entities.Page{}, err
	}
	data, err := c.decodeAll(query.EntityName, response.Data)
	if err != nil {
		return entities.Page{}, err
	}
	return entities.Page{Data: data, Total: response.Total}, nil
}

func (c *Client) decodeAll(entityName string, raw []json.RawMessage) ([]entities.Entity, error) {
	decoded := make([]entities.Entity, 0, len(raw))
	for _, item := range raw {
		entity, err := c.registry.Decode(entityName, item)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, entity)
	}
	return decoded, nil
}

func copyPage(page entities.Page) entities.Page {
	out := entities.Page{Data: slices.Clone(page.Data)}
	if page.Total != nil {
		total := *page.Total
		out.Total = &total
	}
	return out
}
