// Composition root. Owns infrastructure (DB, Redis, file storage) and wires
// the job and table modules on top of it.
package main

import (
	"context"
	"fmt"

	"github.com/Abraxas-365/repohub/pkg/config"
	"github.com/Abraxas-365/repohub/pkg/datarepo"
	"github.com/Abraxas-365/repohub/pkg/datarepo/datarepoapi"
	"github.com/Abraxas-365/repohub/pkg/datarepo/datarepopostgres"
	"github.com/Abraxas-365/repohub/pkg/fsx"
	"github.com/Abraxas-365/repohub/pkg/fsx/fsxlocal"
	"github.com/Abraxas-365/repohub/pkg/fsx/fsxs3"
	"github.com/Abraxas-365/repohub/pkg/iam/auth"
	"github.com/Abraxas-365/repohub/pkg/jobx"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxapi"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxmemory"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxpostgres"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxredis"
	"github.com/Abraxas-365/repohub/pkg/logx"
	"github.com/Abraxas-365/repohub/pkg/wirex"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// memoryQueueSize bounds the in-process queue of the memory store.
const memoryQueueSize = 1024

// Container holds shared infrastructure and the composed modules.
type Container struct {
	Config *config.Config

	// Infrastructure
	DB         *sqlx.DB
	Redis      *redis.Client
	FileSystem fsx.FileSystem
	S3Client   *s3.Client

	// Jobs
	Codec      *wirex.Codec
	Store      jobx.Store
	Queue      jobx.Queue
	Dispatcher *jobx.Dispatcher
	Status     *jobx.StatusService

	// Tables
	Tables    *datarepo.Service
	TableSink datarepo.TableSink

	// HTTP
	Tokens         *auth.JWTService
	AuthMiddleware *auth.TokenMiddleware
	JobHandlers    *jobxapi.Handlers
	TableHandlers  *datarepoapi.Handlers
}

func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logx.Info("Initializing application container...")

	c := &Container{Config: cfg}
	if err := c.initInfrastructure(ctx); err != nil {
		c.Cleanup()
		return nil, err
	}
	if err := c.initModules(); err != nil {
		c.Cleanup()
		return nil, err
	}

	logx.Info("Application container initialized")
	return c, nil
}

// ---------------------------------------------------------------------------
// Infrastructure
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure(ctx context.Context) error {
	if c.Config.Jobx.Store == config.StorePostgres || c.Config.Tables.Sink == config.SinkPostgres {
		if err := c.initDatabase(ctx); err != nil {
			return err
		}
	}
	if c.Config.Jobx.Store == config.StoreRedis {
		if err := c.initRedis(ctx); err != nil {
			return err
		}
	}
	return c.initFileStorage(ctx)
}

func (c *Container) initDatabase(ctx context.Context) error {
	db, err := sqlx.ConnectContext(ctx, "postgres", c.Config.Database.DSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	logx.WithFields(logx.Fields{"host": c.Config.Database.Host, "db": c.Config.Database.Name}).Info("Database connected")
	return nil
}

func (c *Container) initRedis(ctx context.Context) error {
	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Address(),
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if err := c.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", c.Config.Redis.Address(), err)
	}
	logx.WithField("addr", c.Config.Redis.Address()).Info("Redis connected")
	return nil
}

func (c *Container) initFileStorage(ctx context.Context) error {
	sc := c.Config.Storage
	switch sc.Mode {
	case config.StorageS3:
		awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(sc.AWSRegion))
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		c.S3Client = s3.NewFromConfig(awsCfg)
		c.FileSystem = fsxs3.NewS3FileSystem(c.S3Client, sc.AWSBucket, sc.Prefix)
		logx.Infof("S3 file system configured (bucket: %s, region: %s)", sc.AWSBucket, sc.AWSRegion)

	default:
		local, err := fsxlocal.NewLocalFileSystem(sc.UploadDir)
		if err != nil {
			return err
		}
		c.FileSystem = local
		logx.Infof("Local file system configured (path: %s)", local.BasePath())
	}
	return nil
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

func (c *Container) initModules() error {
	reg := wirex.NewRegistry()
	if err := datarepo.Register(reg); err != nil {
		return err
	}
	c.Codec = wirex.NewCodec(reg)

	jc := c.Config.Jobx
	switch jc.Store {
	case config.StorePostgres:
		c.Store = jobxpostgres.NewStore(c.DB)
		c.Queue = jobxpostgres.NewQueue(c.DB, jc.Queue, jc.PollInterval)
	case config.StoreRedis:
		c.Store = jobxredis.NewStore(c.Redis)
		c.Queue = jobxredis.NewQueue(c.Redis, jc.Queue)
	default:
		c.Store = jobxmemory.NewStore()
		c.Queue = jobxmemory.NewQueue(memoryQueueSize)
	}

	switch c.Config.Tables.Sink {
	case config.SinkPostgres:
		c.TableSink = datarepopostgres.NewSink(c.DB)
	default:
		c.TableSink = datarepo.NewMemorySink()
		if jc.Store != config.StoreMemory {
			logx.Warn("Table rows are kept in this process only; set TABLES_SINK=postgres to share them between workers")
		}
	}

	c.Dispatcher = jobx.NewDispatcher(c.Store, c.Queue, c.Codec,
		jobx.WithConcurrency(jc.Concurrency),
		jobx.WithPollInterval(jc.PollInterval),
		jobx.WithDequeueTimeout(jc.DequeueTimeout),
		jobx.WithShutdownTimeout(jc.ShutdownTimeout),
		jobx.WithCancelCheckInterval(jc.CancelCheckInterval),
	)
	c.Status = jobx.NewStatusService(c.Store, c.Codec)

	c.Tables = datarepo.NewService(c.FileSystem, c.TableSink)
	if err := c.Tables.RegisterHandlers(c.Dispatcher); err != nil {
		return err
	}

	c.Tokens = auth.NewJWTService(c.Config.Auth.JWTSecret, c.Config.Auth.AccessTokenTTL, c.Config.Auth.JWTIssuer)
	c.AuthMiddleware = auth.NewAuthMiddleware(c.Tokens)
	c.JobHandlers = jobxapi.NewHandlers(c.Dispatcher, c.Status,
		jobxapi.WithLimiter(jobxapi.NewOwnerLimiter(c.Config.RateLimit.PerSecond, c.Config.RateLimit.Burst)),
		jobxapi.WithRetryAfter(jc.RetryAfter),
	)
	c.TableHandlers = datarepoapi.NewHandlers(c.JobHandlers, c.FileSystem)

	logx.WithFields(logx.Fields{
		"store":         jc.Store,
		"table_sink":    c.Config.Tables.Sink,
		"request_types": c.Dispatcher.RequestTypes(),
	}).Info("Modules initialized")
	return nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Migrate creates the PostgreSQL tables of every module that stores there.
func (c *Container) Migrate(ctx context.Context) error {
	if c.DB == nil {
		return fmt.Errorf("migrate needs JOBX_STORE=postgres or TABLES_SINK=postgres, got %q and %q",
			c.Config.Jobx.Store, c.Config.Tables.Sink)
	}
	if err := jobxpostgres.Migrate(ctx, c.DB); err != nil {
		return err
	}
	return datarepopostgres.Migrate(ctx, c.DB)
}

func (c *Container) Cleanup() {
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		}
	}
}
