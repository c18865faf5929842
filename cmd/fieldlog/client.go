package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/accounts"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/api"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/config"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/database"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/localstore"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/merge"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/pmfm"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/quality"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/remote"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/synchro"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// device bundles the services a client command works with.
type device struct {
	config   config.ClientConfig
	logger   *zap.Logger
	db       *gorm.DB
	store    *localstore.Store
	network  *remote.NetworkMonitor
	gateway  *remote.Client
	accounts *accounts.Holder
	sync     *synchro.Service
	quality  *quality.Controller
	lists    *merge.Engine
	programs *pmfm.ProgramService
}

func openDevice(ctx context.Context) (*device, error) {
	clientConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(clientConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(clientConfig.LocalDatabasePath, localstore.Schema(), logger)
	if err != nil {
		return nil, err
	}
	d := &device{config: clientConfig, logger: logger, db: db}
	if err := d.wire(); err != nil {
		d.Close()
		return nil, err
	}
	purged, err := d.store.PurgeDeleted(ctx)
	if err != nil {
		logger.Warn("local tombstone purge failed", zap.Error(err))
	} else if purged > 0 {
		logger.Info("local tombstones purged", zap.Int64("rows", purged))
	}
	d.network.Check(ctx)
	return d, nil
}

func (d *device) wire() error {
	registry := entities.DefaultRegistry()
	store, err := localstore.NewStore(localstore.StoreConfig{Database: d.db, Registry: registry, Logger: d.logger})
	if err != nil {
		return err
	}
	d.store = store

	transport, err := remote.NewHTTPTransport(remote.HTTPTransportConfig{
		BaseURL:    d.config.RemoteBaseURL,
		Token:      d.config.RemoteToken,
		Timeout:    d.config.RemoteTimeout,
		RetryCount: 2,
		Logger:     d.logger,
	})
	if err != nil {
		return err
	}
	d.network = remote.NewNetworkMonitor(remote.NetworkMonitorConfig{Pinger: transport, Logger: d.logger})
	d.gateway, err = remote.NewClient(remote.ClientConfig{
		Transport: transport,
		Registry:  registry,
		Network:   d.network,
		Logger:    d.logger,
	})
	if err != nil {
		return err
	}

	d.accounts = accounts.NewHolder(nil)
	if d.config.RemoteToken != "" {
		claims, err := auth.ReadClaims(d.config.RemoteToken)
		if err != nil {
			return fmt.Errorf("read session token: %w", err)
		}
		d.accounts.Set(accounts.FromClaims(claims))
	}

	d.sync, err = synchro.NewService(synchro.ServiceConfig{
		Local:    store,
		Gateway:  d.gateway,
		Network:  d.network,
		Registry: registry,
		Accounts: d.accounts,
		Logger:   d.logger,
	})
	if err != nil {
		return err
	}
	d.quality, err = quality.NewController(quality.ControllerConfig{
		Gateway:  d.gateway,
		Local:    d.sync,
		Accounts: d.accounts,
		Logger:   d.logger,
	})
	if err != nil {
		return err
	}
	d.lists, err = merge.NewEngine(merge.EngineConfig{
		Local:   store,
		Remote:  d.gateway,
		Network: d.network,
		Logger:  d.logger,
	})
	if err != nil {
		return err
	}
	d.programs, err = pmfm.NewProgramService(pmfm.ProgramServiceConfig{
		Gateway: d.gateway,
		TTL:     d.config.ReferentialTTL,
		Logger:  d.logger,
	})
	return err
}

func (d *device) Close() {
	if d.db != nil {
		_ = database.Close(d.db)
	}
	_ = d.logger.Sync()
}

// load reads one entity from the device, or from the server for positive ids.
func (d *device) load(ctx context.Context, entityName string, id int64) (entities.Entity, error) {
	if id < 0 {
		return d.store.Load(ctx, entityName, id)
	}
	page, err := d.gateway.Query(ctx, remote.Query{
		EntityName:  entityName,
		Variables:   api.QueryRequest{Filter: entities.Filter{IncludedIDs: []int64{id}}},
		FetchPolicy: remote.NetworkOnly,
	})
	if err != nil {
		return nil, err
	}
	if page.Count() == 0 {
		return nil, fmt.Errorf("%s#%d not found", entityName, id)
	}
	return page.Data[0], nil
}
