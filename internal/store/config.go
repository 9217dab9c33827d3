package store

import (
	"github.com/loykin/apigw/internal/store/connector"
	"github.com/loykin/apigw/internal/store/postgresql"
	"github.com/loykin/apigw/internal/store/sqlite"
)

const (
	DriverSqlite     = "sqlite"
	DriverPostgresql = "postgresql"

	// DbFileName is the default filename for the run history database.
	DbFileName = "apigw.db"
)

type (
	Run            = connector.Run
	TableNames     = connector.TableNames
	SqliteConfig   = sqlite.Config
	PostgresConfig = postgresql.Config
)

type Config struct {
	Driver       string `mapstructure:"driver"`
	TableNames   TableNames
	DriverConfig DriverConfig
	// Retention is the number of runs kept; zero keeps everything.
	Retention int
}

type DriverConfig interface {
	ToMap() map[string]interface{}
}
