package config

import (
	"errors"
	"os"
	"strings"
)

// Storage backends
const (
	StoreMySQL  = "mysql"
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

// Config holds application configuration
type Config struct {
	// MariaDB接続設定
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// MongoDB接続設定
	MongoURI string
	MongoDB  string

	// mysql | mongo | memory
	StoreDriver string

	// サーバー設定
	ServerPort string
	Env        string
	LogLevel   string

	// 認証設定
	JWTSecret string

	// CORS設定
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() Config {
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "3306"
	}

	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")

	mongoURI := os.Getenv("MONGO_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://localhost:27017"
	}

	mongoDB := os.Getenv("MONGO_DB")
	if mongoDB == "" {
		mongoDB = "marketplace"
	}

	storeDriver := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_DRIVER")))
	if storeDriver == "" {
		storeDriver = StoreMySQL
	}

	serverPort := os.Getenv("SERVER_PORT")
	if serverPort == "" {
		serverPort = "8080"
	}

	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000,http://127.0.0.1:3000"
	}

	cfg := Config{
		DBHost:         dbHost,
		DBPort:         dbPort,
		DBUser:         dbUser,
		DBPassword:     dbPassword,
		DBName:         dbName,
		MongoURI:       mongoURI,
		MongoDB:        mongoDB,
		StoreDriver:    storeDriver,
		ServerPort:     serverPort,
		Env:            env,
		LogLevel:       logLevel,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: strings.Split(allowedOrigins, ","),
	}

	for i := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(cfg.AllowedOrigins[i])
	}

	return cfg
}

// IsDevelopment reports whether the server runs with development defaults.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Validate checks the settings that have no safe default.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreMySQL:
		if c.DBName == "" {
			return errors.New("DB_NAME is required for the mysql store")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo store")
		}
	case StoreMemory:
	default:
		return errors.New("STORE_DRIVER must be one of mysql, mongo, memory")
	}

	if c.JWTSecret == "" && !c.IsDevelopment() {
		return errors.New("JWT_SECRET is required outside development")
	}
	return nil
}
