package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lending_portal/backend"
	"lending_portal/config"
	"lending_portal/db"
	"lending_portal/logger"
	"lending_portal/session"
	"lending_portal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 简化别名，便于 handlers 调用
type Ctx = gin.Context
type H = gin.H

// App 聚合各依赖
type App struct {
	Router   *gin.Engine
	DB       *gorm.DB // DATABASE_URL 为空时为 nil
	RDB      *redis.Client
	Backend  *backend.Client
	Workflow *workflow.Workflow
	Logger   *zap.Logger
	Config   Config

	appSess *session.AppSessionStore
	store   *session.Store
	repo    *db.Repo
}

// Config 从环境变量读取
type Config struct {
	Port           string
	APIURL         string
	BackendCookie  string
	BackendTimeout time.Duration
	RedisAddr      string
	RedisPwd       string
	WebOrigin      string
	SessionTTL     time.Duration
	InFlightTTL    time.Duration
	DatabaseURL    string
	LogLevel       string
	LogFormat      string
}

// SecureCookies 站点走 https 时才加 Secure
func (c Config) SecureCookies() bool { return strings.HasPrefix(c.WebOrigin, "https://") }

func (a *App) AppSessions() *session.AppSessionStore { return a.appSess }
func (a *App) Store() *session.Store                 { return a.store }

// Repo 未配置数据库时为 nil
func (a *App) Repo() *db.Repo { return a.repo }

func MustNew() *App {
	cfg := LoadConfig()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(fmt.Sprintf("logger: %v", err))
	}

	// --- DB: Postgres（可选，只存操作日志）---
	var dbConn *gorm.DB
	if cfg.DatabaseURL != "" {
		if dbConn, err = db.ConnectDB(cfg.DatabaseURL); err != nil {
			log.Fatal("database", zap.Error(err))
		}
		log.Info("database connected")
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPwd, DB: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis", zap.Error(err))
	}

	a, err := New(cfg, log, rdb, dbConn)
	if err != nil {
		log.Fatal("init", zap.Error(err))
	}
	return a
}

// New wires an App from already-open connections. dbConn may be nil.
func New(cfg Config, log *zap.Logger, rdb *redis.Client, dbConn *gorm.DB) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := backend.New(cfg.APIURL, log,
		backend.WithCookieName(cfg.BackendCookie),
		backend.WithTimeout(cfg.BackendTimeout),
	)
	if err != nil {
		return nil, err
	}

	store := session.NewStore(rdb, cfg.InFlightTTL)
	opts := []workflow.Option{workflow.WithInFlight(store)}
	var repo *db.Repo
	if dbConn != nil {
		repo = db.NewRepo(dbConn)
		opts = append(opts, workflow.WithJournal(repo))
	}

	// --- Gin ---
	r := gin.New()
	r.Use(RequestLogger(log), gin.Recovery())
	useCORS(r, cfg.WebOrigin)

	return &App{
		Router:   r,
		DB:       dbConn,
		RDB:      rdb,
		Backend:  client,
		Workflow: workflow.New(log, opts...),
		Logger:   log,
		Config:   cfg,
		appSess:  session.NewAppSessionStore(rdb, cfg.SessionTTL),
		store:    store,
		repo:     repo,
	}, nil
}

func (a *App) Close() {
	_ = a.RDB.Close()
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	_ = a.Logger.Sync()
}

// lockMargin 锁的 ttl 至少比后端超时多这么多
const lockMargin = 5 * time.Second

func LoadConfig() Config {
	get := config.Get
	cfg := Config{
		Port:           get("PORT", "3001"),
		APIURL:         get("API_URL", "http://127.0.0.1:8000"),
		BackendCookie:  get("BACKEND_COOKIE", backend.DefaultCookieName),
		BackendTimeout: config.Seconds("BACKEND_TIMEOUT_SECONDS", 20*time.Second),
		RedisAddr:      get("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPwd:       get("REDIS_PASSWORD", ""),
		WebOrigin:      get("WEB_ORIGIN", "http://localhost:3001"),
		SessionTTL:     config.Seconds("SESSION_TTL_SECONDS", 24*time.Hour),
		InFlightTTL:    config.Seconds("INFLIGHT_TTL_SECONDS", 30*time.Second),
		DatabaseURL:    get("DATABASE_URL", ""),
		LogLevel:       get("LOG_LEVEL", "info"),
		LogFormat:      get("LOG_FORMAT", "console"),
	}
	// 锁不能早于后端请求过期
	if cfg.InFlightTTL < cfg.BackendTimeout+lockMargin {
		cfg.InFlightTTL = cfg.BackendTimeout + lockMargin
	}
	return cfg
}
