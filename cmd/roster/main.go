// Command roster manages person and address records from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/roster/backend/dynamo"
	"github.com/jacentio/roster/backend/file"
	"github.com/jacentio/roster/backend/memory"
	"github.com/jacentio/roster/people"
	"github.com/jacentio/roster/store"
)

// app holds what every subcommand needs once the root command has run.
type app struct {
	persons   *people.PersonStore
	addresses *people.AddressStore
	out       io.Writer
}

var (
	cfg = viper.New()
	env = &app{}
)

var rootCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage person and address records",
	Long: `roster reads and writes person and address records, keeping every
person's address list consistent with the stored addresses.

Settings come from flags or ROSTER_* environment variables, e.g.
ROSTER_BACKEND=dynamo ROSTER_TABLE_PREFIX=prod-.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		logger, err := newLogger(cfg.GetString("log-level"), cfg.GetString("log-format"), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		backend, err := openBackend(cmd.Context(), cfg.GetString("backend"))
		if err != nil {
			return err
		}

		storeCfg := store.DefaultConfig()
		storeCfg.Logger = logger
		env.persons = people.NewPersonStore(backend, storeCfg)
		env.addresses = people.NewAddressStore(backend, env.persons, storeCfg)
		env.out = cmd.OutOrStdout()
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("backend", "file", "Storage backend (file, dynamo, memory)")
	flags.String("dir", "data", "Root directory for the file backend")
	flags.String("table-prefix", "", "DynamoDB table name prefix")
	flags.Bool("create-tables", false, "Create missing DynamoDB tables")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")

	_ = cfg.BindPFlags(flags)
	cfg.SetEnvPrefix("ROSTER")
	cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	cfg.AutomaticEnv()

	rootCmd.AddCommand(personCmd, addressCmd, checkCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func openBackend(ctx context.Context, kind string) (store.Backend, error) {
	switch kind {
	case "file":
		return file.New(cfg.GetString("dir"))
	case "memory":
		return memory.New(), nil
	case "dynamo":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg)
		prefix := cfg.GetString("table-prefix")
		if cfg.GetBool("create-tables") {
			if err := dynamo.EnsureTables(ctx, client, prefix, people.PeopleTable, people.AddressesTable); err != nil {
				return nil, err
			}
		}
		return dynamo.New(client, prefix), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}

func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
