package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/go-sql-driver/mysql"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"marketchat/internal/config"
	"marketchat/internal/store"
	"marketchat/internal/store/memstore"
	"marketchat/internal/store/mongostore"
	"marketchat/internal/store/mysqlstore"
)

const connectTimeout = 10 * time.Second

// DSN builds the MariaDB connection string for cfg.
func DSN(cfg config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&charset=utf8mb4",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
	)
}

// Init initializes the MariaDB connection pool
func Init(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	// 接続テスト
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// InitMongo connects to MongoDB and returns the configured database.
func InitMongo(ctx context.Context, cfg config.Config) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(cfg.MongoDB), nil
}

// Open connects the backend selected by cfg.StoreDriver and prepares its
// schema.
func Open(ctx context.Context, cfg config.Config, logger *log.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		db, err := Init(cfg)
		if err != nil {
			return nil, err
		}
		if err := mysqlstore.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("✅ Database connection established", "driver", cfg.StoreDriver, "host", cfg.DBHost, "db", cfg.DBName)
		return mysqlstore.New(db), nil

	case config.StoreMongo:
		db, err := InitMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s := mongostore.New(db)
		if err := s.EnsureIndexes(ctx); err != nil {
			s.Close(context.Background())
			return nil, err
		}
		logger.Info("✅ Database connection established", "driver", cfg.StoreDriver, "db", cfg.MongoDB)
		return s, nil

	case config.StoreMemory:
		logger.Warn("⚠️  Using in-memory store, data is lost on restart")
		return memstore.New(), nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
