package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/vbonduro/checkin/internal/blobstore"
	"github.com/vbonduro/checkin/internal/blobstore/local"
	"github.com/vbonduro/checkin/internal/blobstore/minio"
	"github.com/vbonduro/checkin/internal/cache"
	"github.com/vbonduro/checkin/internal/cache/memory"
	cacheredis "github.com/vbonduro/checkin/internal/cache/redis"
	"github.com/vbonduro/checkin/internal/config"
	"github.com/vbonduro/checkin/internal/db"
	"github.com/vbonduro/checkin/internal/folder"
	"github.com/vbonduro/checkin/internal/ingest"
	"github.com/vbonduro/checkin/internal/lock"
	"github.com/vbonduro/checkin/internal/metrics"
	"github.com/vbonduro/checkin/internal/notify"
	"github.com/vbonduro/checkin/internal/render"
	"github.com/vbonduro/checkin/internal/rooms"
	"github.com/vbonduro/checkin/internal/schema"
	"github.com/vbonduro/checkin/internal/selfcheck"
	"github.com/vbonduro/checkin/internal/service"
	"github.com/vbonduro/checkin/internal/tabular"
	"github.com/vbonduro/checkin/internal/tabular/memtable"
	"github.com/vbonduro/checkin/internal/tabular/sqlite"
	"github.com/vbonduro/checkin/internal/tabular/xlsx"
	"github.com/vbonduro/checkin/internal/web"
)

// logHeaders is the fixed prefix of every log row, followed by the report
// link columns filled after rendering.
var logHeaders = []string{
	"Timestamp", "Building", "Floor", "roomId", "Inspector", "GlobalNotes", "Folder",
	"Inspection PDF", "Tenant Signature",
}

type app struct {
	server  *web.Server
	checker *selfcheck.Checker
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// build wires the application. With prepare set the log sheet is created
// when missing; the check command leaves storage untouched.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger, prepare bool) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	tables, err := openTables(cfg, logger, a)
	if err != nil {
		return nil, err
	}
	if prepare {
		if err := tables.EnsureTable(ctx, cfg.LogSheet, logHeaders); err != nil {
			return nil, fmt.Errorf("failed to prepare %s: %w", cfg.LogSheet, err)
		}
	}

	blobs, publicBlobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var rdb *goredis.Client
	if cfg.CacheBackend == "redis" || cfg.LockBackend == "redis" {
		rdb, err = cacheredis.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error("failed to close redis client", "error", err)
			}
		})
	}

	var folderCache cache.Cache = memory.New(cfg.FolderCacheTTL)
	if cfg.CacheBackend == "redis" {
		folderCache = cacheredis.New(rdb)
	}
	var locker lock.Locker = lock.NewKeyed()
	if cfg.LockBackend == "redis" {
		locker = lock.NewRedis(rdb, logger)
	}

	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	resolver := schema.NewResolver(tables, locker, schema.WithColumnCreated(func(table, header string) {
		logger.Info("column created", "table", table, "column", header)
		m.ColumnCreated(table, header)
	}))

	registry := rooms.NewRegistry(tables, rooms.Config{
		RoomsTable:               cfg.RoomsSheet,
		RoomHeader:               cfg.RoomHeader,
		ReservationsTable:        cfg.ReservationsSheet,
		ReservationCodeHeader:    cfg.ReservationCodeHeader,
		ReservationLogCodeHeader: cfg.ReservationLogCodeHeader,
		LineUserHeader:           cfg.LineUserHeader,
	})
	lookup := folder.NewLookup(registry, folderCache, cfg.FolderCacheTTL, logger)
	chain := folder.NewChain(lookup, cfg.CheckinFolderHeader, cfg.RoomFolderHeader, cfg.DefaultFolder, logger)

	renderer, err := render.NewPDFRenderer(blobs, render.Config{
		TemplatePath: cfg.TemplatePath,
		ChromePath:   cfg.ChromePath,
		Location:     cfg.Location(),
	}, logger)
	if err != nil {
		return nil, err
	}

	svc := service.NewCheckinService(service.Deps{
		Folders:   chain,
		Blobs:     blobs,
		Writer:    ingest.NewWriter(tables, resolver),
		Cells:     tables,
		Renderer:  renderer,
		Directory: registry,
		Sender:    notify.NewLineClient(cfg.LineToken, cfg.LineAPIURL),
		Metrics:   m,
	}, service.Config{
		LogTable:   cfg.LogSheet,
		Location:   cfg.Location(),
		WelcomeURL: cfg.WelcomeURL,
	}, logger)

	opts := []web.Option{web.WithMetrics(m), web.WithMaxBodyBytes(cfg.MaxBodyBytes)}
	if publicBlobs != nil {
		opts = append(opts, web.WithBlobs(publicBlobs))
	}
	a.server = web.NewServer(svc, logger, opts...)

	probes := []selfcheck.Probe{{
		Name:  "chrome",
		Check: func(context.Context) error { return renderer.CheckChrome() },
	}}
	if rdb != nil {
		probes = append(probes, selfcheck.Probe{
			Name:     "redis",
			Required: true,
			Check: func(ctx context.Context) error {
				ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				return rdb.Ping(ctx).Err()
			},
		})
	}
	a.checker = selfcheck.New(tables, blobs, selfcheck.Config{
		LogTable:   cfg.LogSheet,
		RoomsTable: cfg.RoomsSheet,
		RoomHeaders: []string{
			cfg.RoomHeader, cfg.RoomFolderHeader, cfg.CheckinFolderHeader,
			cfg.CheckoutFolderHeader, cfg.ReservationCodeHeader,
		},
		DefaultFolder: cfg.DefaultFolder,
	}, probes...)

	logger.Info("check-in service configured",
		"tables", cfg.TableBackend, "blobs", cfg.BlobBackend,
		"cache", cfg.CacheBackend, "lock", cfg.LockBackend)
	return a, nil
}

func openTables(cfg *config.Config, logger *slog.Logger, a *app) (tabular.Store, error) {
	switch cfg.TableBackend {
	case "xlsx":
		s, err := xlsx.Open(cfg.XLSXPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := s.Close(); err != nil {
				logger.Error("failed to close workbook", "error", err)
			}
		})
		return s, nil
	case "memory":
		return memtable.New(), nil
	default:
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := database.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		})
		return sqlite.New(database), nil
	}
}

// openBlobs returns the configured store and, for the local backend, the
// same store as the source of GET /blobs.
func openBlobs(ctx context.Context, cfg *config.Config) (blobstore.Store, *local.Store, error) {
	if cfg.BlobBackend == "minio" {
		s, err := minio.New(ctx, minio.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	s, err := local.New(cfg.BlobLocalPath, cfg.PublicBaseURL)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}
