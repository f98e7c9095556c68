package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jacentio/roster/people"
)

var errInconsistent = errors.New("person/address references are inconsistent")

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Scan all records and report broken person/address references",
	Long: `Scan every person and address and print a JSON report.

Exits non-zero when a person lists a missing address or an address is not
listed by its existing owner. Addresses of deleted people (orphans) are
reported but tolerated.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		report, err := people.Check(cmd.Context(), env.persons, env.addresses)
		if err != nil {
			return err
		}
		if err := printJSON(env.out, report); err != nil {
			return err
		}
		if !report.OK() {
			slog.Error("integrity check failed",
				"dangling", len(report.Dangling),
				"unlinked", len(report.Unlinked),
			)
			return errInconsistent
		}
		return nil
	},
}
