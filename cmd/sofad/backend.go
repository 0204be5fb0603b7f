package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/sofa/backend/couch"
	"github.com/jacentio/sofa/backend/dynamo"
	"github.com/jacentio/sofa/backend/memory"
	"github.com/jacentio/sofa/backend/sqldb"
	"github.com/jacentio/sofa/store"
)

// backendOptions selects and configures the document backend.
type backendOptions struct {
	Name           string
	DSN            string
	DynamoEndpoint string
	InitTable      bool
}

// openBackend builds the backend named by opts. Backends that own
// resources are returned as closers through store.Store.Close.
func openBackend(ctx context.Context, opts backendOptions, cfg store.Config) (store.Backend, error) {
	switch opts.Name {
	case "couch", "":
		return couch.New(), nil

	case "memory":
		b := memory.New()
		b.CreateDatabase(cfg.Database)
		return b, nil

	case "sqlite", "postgres":
		dialect, _ := sqldb.DialectByName(opts.Name)
		if opts.DSN == "" {
			return nil, fmt.Errorf("backend %s requires -dsn", opts.Name)
		}
		b, err := sqldb.Open(dialect, opts.DSN)
		if err != nil {
			return nil, err
		}
		if opts.InitTable {
			if err := b.EnsureTable(ctx, cfg.Database); err != nil {
				b.Close()
				return nil, err
			}
		}
		return b, nil

	case "dynamo":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if opts.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(opts.DynamoEndpoint)
			}
		})
		return dynamo.New(client, dynamo.DefaultConfig()), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", opts.Name)
	}
}
