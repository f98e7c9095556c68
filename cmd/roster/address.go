package main

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jacentio/roster/people"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Add, list and delete a person's addresses",
}

var addressFlags struct {
	person    string
	street    string
	number    int
	apartment string
	fromFile  string
}

// addressInput is one element of a --from-file batch.
type addressInput struct {
	Person    string `json:"person"`
	Street    string `json:"street"`
	Number    int    `json:"number"`
	Apartment string `json:"apartment,omitempty"`
}

var addressAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an address, or a batch of addresses, to existing people and print the ids",
	Example: `  roster address add --person 0b9c... --street "Main St" --number 10 --apartment B
  roster address add --from-file addresses.json

addresses.json holds a JSON array: [{"person": "0b9c...", "street": "Main St", "number": 10}]`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if addressFlags.fromFile != "" {
			return addAddressesFromFile(cmd)
		}
		a, err := addressFromInput(addressInput{
			Person:    addressFlags.person,
			Street:    addressFlags.street,
			Number:    addressFlags.number,
			Apartment: addressFlags.apartment,
		})
		if err != nil {
			return err
		}

		id, err := env.addresses.AddAddress(cmd.Context(), a)
		if err != nil {
			return err
		}
		return printJSON(env.out, map[string]string{"id": id.String()})
	},
}

var addressListCmd = &cobra.Command{
	Use:   "list <person-id>",
	Short: "Print a person's addresses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		personID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid person id %q: %w", args[0], err)
		}
		addresses, err := env.addresses.FindAddresses(cmd.Context(), personID)
		if err != nil {
			return err
		}
		return printJSON(env.out, addresses)
	},
}

var addressDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an address and detach it from its owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		return env.addresses.DeleteAddress(cmd.Context(), id)
	},
}

func init() {
	f := addressAddCmd.Flags()
	f.StringVar(&addressFlags.person, "person", "", "Owner person id [required]")
	f.StringVar(&addressFlags.street, "street", "", "Street name [required]")
	f.IntVar(&addressFlags.number, "number", 0, "House number [required]")
	f.StringVar(&addressFlags.apartment, "apartment", "", "Apartment letter")
	f.StringVar(&addressFlags.fromFile, "from-file", "", "Add every address in a JSON array file (- for stdin)")
	addressAddCmd.MarkFlagsOneRequired("from-file", "person")
	addressAddCmd.MarkFlagsRequiredTogether("person", "street", "number")
	for _, name := range []string{"person", "street", "number", "apartment"} {
		addressAddCmd.MarkFlagsMutuallyExclusive("from-file", name)
	}

	addressCmd.AddCommand(addressAddCmd, addressListCmd, addressDeleteCmd)
}

func addressFromInput(in addressInput) (people.Address, error) {
	personID, err := uuid.Parse(in.Person)
	if err != nil {
		return people.Address{}, fmt.Errorf("invalid person id %q: %w", in.Person, err)
	}
	if in.Street == "" {
		return people.Address{}, fmt.Errorf("street must not be empty")
	}
	if utf8.RuneCountInString(in.Apartment) > 1 {
		return people.Address{}, fmt.Errorf("apartment must be a single character, got %q", in.Apartment)
	}
	return people.Address{
		StreetName:      in.Street,
		HouseNumber:     in.Number,
		ApartmentNumber: in.Apartment,
		PersonID:        personID,
	}, nil
}

// addAddressesFromFile validates the whole batch before writing any of it.
// On a write failure the ids added so far are printed with the error.
func addAddressesFromFile(cmd *cobra.Command) error {
	var inputs []addressInput
	if err := readBatch(cmd, addressFlags.fromFile, &inputs); err != nil {
		return err
	}
	batch := make([]people.Address, 0, len(inputs))
	for i, in := range inputs {
		a, err := addressFromInput(in)
		if err != nil {
			return fmt.Errorf("address %d: %w", i+1, err)
		}
		batch = append(batch, a)
	}

	ids, err := env.addresses.AddAddresses(cmd.Context(), batch)
	if printErr := printJSON(env.out, map[string][]uuid.UUID{"ids": ids}); printErr != nil && err == nil {
		err = printErr
	}
	return err
}
