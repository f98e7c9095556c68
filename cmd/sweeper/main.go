// Command sweeper is a Lambda function for the people table stream. It deletes
// the addresses of every removed person.
//
// Configuration is read from ROSTER_TABLE_PREFIX and ROSTER_LOG_LEVEL.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/viper"

	"github.com/jacentio/roster/backend/dynamo"
	"github.com/jacentio/roster/people"
	"github.com/jacentio/roster/store"
	"github.com/jacentio/roster/stream"
)

func main() {
	cfg := viper.New()
	cfg.SetEnvPrefix("ROSTER")
	cfg.SetDefault("table_prefix", "")
	cfg.SetDefault("log_level", "info")
	cfg.AutomaticEnv()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.GetString("log_level"))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	prefix := cfg.GetString("table_prefix")
	backend := dynamo.New(dynamodb.NewFromConfig(awsCfg), prefix)

	storeCfg := store.DefaultConfig()
	storeCfg.Logger = logger
	persons := people.NewPersonStore(backend, storeCfg)
	addresses := people.NewAddressStore(backend, persons, storeCfg)

	h := stream.NewHandler(addresses, people.Relationships(), prefix, logger)
	lambda.Start(h.HandlePersonRemoved)
}
