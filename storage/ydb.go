package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/ydb-platform/ydb-go-sdk/v3"
	yc "github.com/ydb-platform/ydb-go-yc"
)

//go:embed schema/ydb/schema.sql
var ydbSchema string

var ydbDialect = dialect{
	name:   "ydb",
	schema: ydbSchema,
	upsert: `
		UPSERT INTO local_storage (item_key, item_value, updated_at)
		VALUES (?, ?, ?)
	`,
	schemaContext: func(ctx context.Context) context.Context {
		return ydb.WithQueryMode(ctx, ydb.SchemeQueryMode)
	},
}

type YDBConfig struct {
	DSN                    string `yaml:"dsn"`
	ServiceAccountKeyFile  string `yaml:"service_account_key_file,omitempty"`
	UseMetadataCredentials bool   `yaml:"use_metadata_credentials,omitempty"`
}

// NewYDBStorage opens a YDB database through its database/sql connector,
// authenticating with Yandex Cloud credentials when configured.
func NewYDBStorage(ctx context.Context, cfg YDBConfig) (*SQLStorage, error) {
	opts := []ydb.Option{yc.WithInternalCA()}
	switch {
	case cfg.ServiceAccountKeyFile != "":
		opts = append(opts, yc.WithServiceAccountKeyFileCredentials(cfg.ServiceAccountKeyFile))
	case cfg.UseMetadataCredentials:
		opts = append(opts, yc.WithMetadataCredentials())
	}

	driver, err := ydb.Open(ctx, cfg.DSN, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open ydb: %w", err)
	}

	connector, err := ydb.Connector(driver, ydb.WithAutoDeclare(), ydb.WithPositionalArgs())
	if err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to create ydb connector: %w", err)
	}

	closeDriver := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return driver.Close(ctx)
	}

	return newSQLStorage(sql.OpenDB(connector), ydbDialect, closeDriver)
}
