package config_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"gorm.io/gorm/logger"

	"catalog-service/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	c := qt.New(t)

	cfg, err := config.Load()
	c.Assert(err, qt.IsNil)

	c.Assert(cfg.ServiceName, qt.Equals, "catalog-service")
	c.Assert(cfg.Server.Port, qt.Equals, "8080")
	c.Assert(cfg.Server.Env, qt.Equals, "development")
	c.Assert(cfg.DB.Host, qt.Equals, "localhost")
	c.Assert(cfg.DB.MaxIdleConns, qt.Equals, 10)
	c.Assert(cfg.DB.MaxOpenConns, qt.Equals, 100)
	c.Assert(cfg.DB.ConnMaxLifetime, qt.Equals, 1*time.Hour)
	c.Assert(cfg.Log.Level, qt.Equals, "info")
	c.Assert(cfg.Metrics.Prefix, qt.Equals, "catalog")
	c.Assert(cfg.Upload.Dir, qt.Equals, "./public/images")
	c.Assert(cfg.Upload.PublicPrefix, qt.Equals, "/images")
	c.Assert(cfg.Upload.Placeholder, qt.Equals, "/images/No_Image.png")
	c.Assert(cfg.Upload.MaxBytes, qt.Equals, int64(2000000))
	c.Assert(cfg.Upload.AllowedExtensions, qt.DeepEquals, []string{".jpg", ".png"})
}

func TestLoadFromEnvironment(t *testing.T) {
	c := qt.New(t)

	t.Setenv("SERVICE_NAME", "catalog-test")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_MAX_OPEN_CONNS", "25")
	t.Setenv("DB_CONN_MAX_LIFETIME", "30m")
	t.Setenv("DB_LOG_LEVEL", "warn")
	t.Setenv("UPLOAD_DIR", "/srv/images")
	t.Setenv("UPLOAD_MAX_BYTES", "500000")
	t.Setenv("UPLOAD_ALLOWED_EXTENSIONS", ".jpg, .png, .webp")

	cfg, err := config.Load()
	c.Assert(err, qt.IsNil)

	c.Assert(cfg.ServiceName, qt.Equals, "catalog-test")
	c.Assert(cfg.Server.Port, qt.Equals, "9090")
	c.Assert(cfg.DB.Host, qt.Equals, "db.internal")
	c.Assert(cfg.DB.MaxOpenConns, qt.Equals, 25)
	c.Assert(cfg.DB.ConnMaxLifetime, qt.Equals, 30*time.Minute)
	c.Assert(cfg.DB.LogLevel, qt.Equals, logger.Warn)
	c.Assert(cfg.Upload.Dir, qt.Equals, "/srv/images")
	c.Assert(cfg.Upload.MaxBytes, qt.Equals, int64(500000))
	c.Assert(cfg.Upload.AllowedExtensions, qt.DeepEquals, []string{".jpg", ".png", ".webp"})
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	c := qt.New(t)

	t.Setenv("DB_MAX_IDLE_CONNS", "not-a-number")
	t.Setenv("DB_CONN_MAX_LIFETIME", "soon")
	t.Setenv("DB_LOG_LEVEL", "chatty")

	cfg, err := config.Load()
	c.Assert(err, qt.IsNil)

	c.Assert(cfg.DB.MaxIdleConns, qt.Equals, 10)
	c.Assert(cfg.DB.ConnMaxLifetime, qt.Equals, 1*time.Hour)
	c.Assert(cfg.DB.LogLevel, qt.Equals, logger.Info)
}

func TestGetDSN(t *testing.T) {
	c := qt.New(t)

	cfg := config.DBConfig{
		Host:     "localhost",
		Port:     "5432",
		User:     "postgres",
		Password: "secret",
		DBName:   "catalog",
		SSLMode:  "disable",
	}

	c.Assert(cfg.GetDSN(), qt.Equals,
		"host=localhost port=5432 user=postgres password=secret dbname=catalog sslmode=disable")
}
