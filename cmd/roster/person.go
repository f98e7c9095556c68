package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jacentio/roster/people"
)

const dateLayout = "2006-01-02"

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Create, read, update and delete people",
}

var personFlags struct {
	name     string
	surname  string
	birthday string
	fromFile string
}

// personInput is one element of a --from-file batch.
type personInput struct {
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Birthday string `json:"birthday"`
}

var personCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a person, or a batch of people, and print the ids",
	Example: `  roster person create --name Ada --surname Lovelace --birthday 1815-12-10
  roster person create --from-file people.json

people.json holds a JSON array: [{"name": "Ada", "surname": "Lovelace", "birthday": "1815-12-10"}]
Use --from-file - to read the array from stdin.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if personFlags.fromFile != "" {
			return createPeopleFromFile(cmd)
		}
		p, err := personFromFlags()
		if err != nil {
			return err
		}
		id, err := env.persons.Create(cmd.Context(), p)
		if err != nil {
			return err
		}
		return printJSON(env.out, map[string]string{"id": id.String()})
	},
}

var personGetCmd = &cobra.Command{
	Use:   "get <id>...",
	Short: "Print the people that exist among the given ids",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		found, err := env.persons.FindMany(cmd.Context(), ids)
		if err != nil {
			return err
		}
		return printJSON(env.out, found)
	},
}

var personUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Replace a person's name, surname and birthday",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		p, err := personFromFlags()
		if err != nil {
			return err
		}
		p.ID = id
		return env.persons.Overwrite(cmd.Context(), p)
	},
}

var personDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a person (addresses are kept)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}
		return env.persons.Delete(cmd.Context(), id)
	},
}

func init() {
	for _, c := range []*cobra.Command{personCreateCmd, personUpdateCmd} {
		c.Flags().StringVar(&personFlags.name, "name", "", "Given name [required]")
		c.Flags().StringVar(&personFlags.surname, "surname", "", "Surname [required]")
		c.Flags().StringVar(&personFlags.birthday, "birthday", "", "Birthday as YYYY-MM-DD [required]")
	}
	_ = personUpdateCmd.MarkFlagRequired("name")
	_ = personUpdateCmd.MarkFlagRequired("surname")
	_ = personUpdateCmd.MarkFlagRequired("birthday")

	personCreateCmd.Flags().StringVar(&personFlags.fromFile, "from-file", "", "Create every person in a JSON array file (- for stdin)")
	personCreateCmd.MarkFlagsOneRequired("from-file", "name")
	for _, name := range []string{"name", "surname", "birthday"} {
		personCreateCmd.MarkFlagsMutuallyExclusive("from-file", name)
	}

	personCmd.AddCommand(personCreateCmd, personGetCmd, personUpdateCmd, personDeleteCmd)
}

func personFromFlags() (people.Person, error) {
	return personFromInput(personInput{
		Name:     personFlags.name,
		Surname:  personFlags.surname,
		Birthday: personFlags.birthday,
	})
}

func personFromInput(in personInput) (people.Person, error) {
	if in.Name == "" || in.Surname == "" {
		return people.Person{}, fmt.Errorf("name and surname must not be empty")
	}
	birthday, err := time.Parse(dateLayout, in.Birthday)
	if err != nil {
		return people.Person{}, fmt.Errorf("invalid birthday %q: %w", in.Birthday, err)
	}
	return people.Person{
		Name:     in.Name,
		Surname:  in.Surname,
		Birthday: birthday,
	}, nil
}

// createPeopleFromFile validates the whole batch before writing any of it.
// On a write failure the ids created so far are printed with the error.
func createPeopleFromFile(cmd *cobra.Command) error {
	var inputs []personInput
	if err := readBatch(cmd, personFlags.fromFile, &inputs); err != nil {
		return err
	}
	batch := make([]people.Person, 0, len(inputs))
	for i, in := range inputs {
		p, err := personFromInput(in)
		if err != nil {
			return fmt.Errorf("person %d: %w", i+1, err)
		}
		batch = append(batch, p)
	}

	ids, err := env.persons.CreateMany(cmd.Context(), batch)
	if printErr := printJSON(env.out, map[string][]uuid.UUID{"ids": ids}); printErr != nil && err == nil {
		err = printErr
	}
	return err
}

// readBatch decodes a JSON array from path, or from stdin when path is "-".
func readBatch(cmd *cobra.Command, path string, v any) error {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open batch: %w", err)
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode batch %s: %w", path, err)
	}
	return nil
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
