package cmd

import (
	"context"
	"fmt"
	"log/slog"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/pix-payments/internal"
	paymentrow "github.com/frahmantamala/pix-payments/internal/core/datamodel/payment"
	"github.com/frahmantamala/pix-payments/internal/payment"
	"github.com/frahmantamala/pix-payments/internal/payment/dynamo"
	postgresstore "github.com/frahmantamala/pix-payments/internal/payment/postgres"
	redisstore "github.com/frahmantamala/pix-payments/internal/payment/redis"
	"github.com/frahmantamala/pix-payments/internal/transport/rest"
	awspkg "github.com/frahmantamala/pix-payments/pkg/aws"
)

// storeBackend is the selected payment store plus what the server needs to
// report on it and release it.
type storeBackend struct {
	Store   payment.Store
	Checks  map[string]rest.Checker
	closers []func() error
}

func (b *storeBackend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Error("failed to close store backend", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg internal.StoreConfig, logger *slog.Logger) (*storeBackend, error) {
	switch cfg.Driver {
	case "", internal.StoreDriverMemory:
		logger.Warn("using the in-memory payment store; records are lost on restart")
		return &storeBackend{Store: payment.NewMemoryStore(), Checks: map[string]rest.Checker{}}, nil

	case internal.StoreDriverPostgres:
		db, err := initDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to open gorm on postgres: %w", err)
		}
		return &storeBackend{
			Store:   postgresstore.NewPaymentStore(gdb),
			Checks:  map[string]rest.Checker{"postgres": db.PingContext},
			closers: []func() error{db.Close},
		}, nil

	case internal.StoreDriverSQLite:
		gdb, err := gorm.Open(sqlite.Open(cfg.Database.Source), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		if err := gdb.WithContext(ctx).AutoMigrate(&paymentrow.Payment{}); err != nil {
			return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
		}
		// one writer at a time
		sqlDB.SetMaxOpenConns(1)
		return &storeBackend{
			Store:   postgresstore.NewPaymentStore(gdb),
			Checks:  map[string]rest.Checker{"sqlite": sqlDB.PingContext},
			closers: []func() error{sqlDB.Close},
		}, nil

	case internal.StoreDriverRedis:
		client, err := redisstore.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		return &storeBackend{
			Store: redisstore.NewPaymentStore(client, cfg.Redis.KeyPrefix),
			Checks: map[string]rest.Checker{"redis": func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			}},
			closers: []func() error{client.Close},
		}, nil

	case internal.StoreDriverDynamoDB:
		awsCfg, err := awspkg.LoadConfig(ctx, cfg.DynamoDB.Region)
		if err != nil {
			return nil, err
		}
		client := awspkg.NewDynamoDBClient(awsCfg, cfg.DynamoDB.Endpoint)
		table := cfg.DynamoDB.Table
		return &storeBackend{
			Store: dynamo.NewPaymentStore(client, table),
			Checks: map[string]rest.Checker{"dynamodb": func(ctx context.Context) error {
				_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: sdkaws.String(table)})
				return err
			}},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// initDB opens the shared pgx pool that gorm and the health check use.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return dbConn, nil
}
