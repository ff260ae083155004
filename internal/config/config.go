package config

import (
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Dav      DavConfig      `mapstructure:"dav"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AuthConfig 认证配置
type AuthConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
}

// DavConfig DAV语义层配置
type DavConfig struct {
	// MountPath 服务端应用根（""或不以斜杠结尾）
	MountPath string `mapstructure:"mount_path"`
	// SharePath 共享根路径
	SharePath string `mapstructure:"share_path"`
	// MaxLockTimeout 单次锁授予的秒数上限
	MaxLockTimeout int64 `mapstructure:"max_lock_timeout"`
	// AllowInfiniteLocks 是否接受Infinite超时请求
	AllowInfiniteLocks bool `mapstructure:"allow_infinite_locks"`
	Verbose            int  `mapstructure:"verbose"`
}

// StorageConfig 存储后端配置
type StorageConfig struct {
	// Type "fs"或"object"
	Type   string       `mapstructure:"type"`
	Local  LocalConfig  `mapstructure:"local"`
	Object ObjectConfig `mapstructure:"object"`
}

// LocalConfig 本地文件系统后端配置
type LocalConfig struct {
	RootPath string `mapstructure:"root_path"`
}

// ObjectConfig 对象存储后端配置
type ObjectConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	BucketName string `mapstructure:"bucket_name"`
}

// DatabaseConfig 属性与锁持久化数据库配置
type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig PostgreSQL配置
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig 锁持久化缓存配置
// lock_store为"redis"时锁记录写入Redis，否则落到database
type CacheConfig struct {
	LockStore string      `mapstructure:"lock_store"`
	Redis     RedisConfig `mapstructure:"redis"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load 加载配置
// 优先级：环境变量 > 配置文件 > 默认值；.env文件先并入环境
func Load() (*Config, error) {
	_ = godotenv.Load()

	// 设置默认值
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("server.read_timeout", 15*time.Minute)
	viper.SetDefault("server.write_timeout", 15*time.Minute)
	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.jwt_secret", "change-me")
	viper.SetDefault("auth.token_expiry", 24*time.Hour)
	viper.SetDefault("dav.mount_path", "/dav")
	viper.SetDefault("dav.share_path", "/")
	viper.SetDefault("dav.max_lock_timeout", int64(86400))
	viper.SetDefault("dav.allow_infinite_locks", false)
	viper.SetDefault("dav.verbose", 1)
	viper.SetDefault("storage.type", "fs")
	viper.SetDefault("storage.local.root_path", "./data/files")
	viper.SetDefault("storage.object.endpoint", "localhost:9000")
	viper.SetDefault("storage.object.use_ssl", false)
	viper.SetDefault("storage.object.bucket_name", "dav-files")
	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.sqlite.path", "./data/dav.db")
	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.ssl_mode", "disable")
	viper.SetDefault("cache.lock_store", "sql")
	viper.SetDefault("cache.redis.address", "localhost:6379")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// 优先从配置文件加载
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/webdav-provider")

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// 如果设置了环境变量，覆盖配置文件
	setEnvOverrides()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// setEnvOverrides 设置环境变量覆盖
func setEnvOverrides() {
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		viper.Set("server.address", addr)
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		viper.Set("server.mode", mode)
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		viper.Set("auth.jwt_secret", secret)
	}

	if mount := os.Getenv("DAV_MOUNT_PATH"); mount != "" {
		viper.Set("dav.mount_path", mount)
	}
	if share := os.Getenv("DAV_SHARE_PATH"); share != "" {
		viper.Set("dav.share_path", share)
	}

	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		viper.Set("storage.type", storageType)
	}
	if root := os.Getenv("STORAGE_ROOT_PATH"); root != "" {
		viper.Set("storage.local.root_path", root)
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		viper.Set("storage.object.endpoint", endpoint)
	}
	if accessKey := os.Getenv("MINIO_ACCESS_KEY"); accessKey != "" {
		viper.Set("storage.object.access_key", accessKey)
	}
	if secretKey := os.Getenv("MINIO_SECRET_KEY"); secretKey != "" {
		viper.Set("storage.object.secret_key", secretKey)
	}
	if bucket := os.Getenv("MINIO_BUCKET_NAME"); bucket != "" {
		viper.Set("storage.object.bucket_name", bucket)
	}

	if dbType := os.Getenv("DATABASE_TYPE"); dbType != "" {
		viper.Set("database.type", dbType)
	}
	if pgHost := os.Getenv("POSTGRES_HOST"); pgHost != "" {
		viper.Set("database.postgres.host", pgHost)
	}
	if pgPort := os.Getenv("POSTGRES_PORT"); pgPort != "" {
		if port, err := strconv.Atoi(pgPort); err == nil {
			viper.Set("database.postgres.port", port)
		}
	}
	if pgUser := os.Getenv("POSTGRES_USERNAME"); pgUser != "" {
		viper.Set("database.postgres.username", pgUser)
	}
	if pgPassword := os.Getenv("POSTGRES_PASSWORD"); pgPassword != "" {
		viper.Set("database.postgres.password", pgPassword)
	}
	if pgDatabase := os.Getenv("POSTGRES_DATABASE"); pgDatabase != "" {
		viper.Set("database.postgres.database", pgDatabase)
	}

	if lockStore := os.Getenv("LOCK_STORE"); lockStore != "" {
		viper.Set("cache.lock_store", lockStore)
	}
	if redisAddr := os.Getenv("REDIS_ADDRESS"); redisAddr != "" {
		viper.Set("cache.redis.address", redisAddr)
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		viper.Set("cache.redis.password", redisPassword)
	}
	if redisDB := os.Getenv("REDIS_DB"); redisDB != "" {
		if db, err := strconv.Atoi(redisDB); err == nil {
			viper.Set("cache.redis.db", db)
		}
	}
}

// DatabaseDriver 数据库驱动名
func (c *Config) DatabaseDriver() string {
	if c.Database.Type == "postgres" {
		return "postgres"
	}
	return "sqlite3"
}

// GetDSN 获取数据库连接字符串
func (c *Config) GetDSN() string {
	switch c.Database.Type {
	case "postgres":
		return buildPostgresDSN(c.Database.Postgres)
	case "sqlite":
		return c.Database.SQLite.Path
	default:
		return ""
	}
}

// buildPostgresDSN 构建PostgreSQL DSN
func buildPostgresDSN(config PostgresConfig) string {
	dsn := "host=" + config.Host
	dsn += " port=" + strconv.Itoa(config.Port)
	dsn += " user=" + config.Username
	dsn += " password=" + config.Password
	dsn += " dbname=" + config.Database
	dsn += " sslmode=" + config.SSLMode
	return dsn
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Mode == "production" || c.Server.Mode == "release"
}

// GetGINMode 获取Gin模式
func (c *Config) GetGINMode() string {
	switch c.Server.Mode {
	case "release", "production":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}
