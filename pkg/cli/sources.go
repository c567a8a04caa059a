package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ekaya-inc/golden-engine/pkg/jsonutil"
	"github.com/ekaya-inc/golden-engine/pkg/models"
)

const defaultPasswordEnv = "SOURCE_PASSWORD"

// sourceFlags backs the add and update commands.
type sourceFlags struct {
	name        string
	dbType      string
	host        string
	port        int
	database    string
	user        string
	sslMode     string
	schemas     []string
	blacklist   []string
	metadata    string
	passwordEnv string
}

func (f *sourceFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "unique registration name, used as the scan run's source system")
	fs.StringVar(&f.dbType, "type", models.SourceTypePostgres, "database type: postgres, mssql or sqlite")
	fs.StringVar(&f.host, "host", "", "database host (file path for sqlite)")
	fs.IntVar(&f.port, "port", 0, "database port (default by type)")
	fs.StringVar(&f.database, "database", "", "database name")
	fs.StringVar(&f.user, "user", "", "database user")
	fs.StringVar(&f.sslMode, "ssl-mode", "", "ssl mode passed to the driver")
	fs.StringSliceVar(&f.schemas, "schemas", nil, "schemas to scan (default: all non-system schemas)")
	fs.StringSliceVar(&f.blacklist, "blacklist", nil, "table name patterns to skip; % and * match any run, ? one character")
	fs.StringVar(&f.metadata, "metadata", "", "extra connection options as a JSON object")
	fs.StringVar(&f.passwordEnv, "password-env", defaultPasswordEnv, "environment variable holding the password")
}

func (f *sourceFlags) decodeMetadata() (map[string]any, error) {
	if f.metadata == "" {
		return nil, nil
	}
	m, err := jsonutil.DecodeObject([]byte(f.metadata))
	if err != nil {
		return nil, fmt.Errorf("--metadata: %w", err)
	}
	return m, nil
}

func newSourcesCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sources",
		Short:   "Manage registered source databases",
		GroupID: "management",
	}
	cmd.AddCommand(
		newSourcesAddCommand(opts),
		newSourcesUpdateCommand(opts),
		newSourcesListCommand(opts),
		newSourcesDeactivateCommand(opts),
	)
	return cmd
}

func newSourcesAddCommand(opts *rootOptions) *cobra.Command {
	f := &sourceFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a source database",
		Example: `  SOURCE_PASSWORD=secret golden-engine sources add --name crm --host db.internal \
    --database crm --user reader --schemas public --blacklist 'tmp_%,audit_*'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			metadata, err := f.decodeMetadata()
			if err != nil {
				return err
			}
			reg := &models.SourceRegistration{
				Name:           f.name,
				DBType:         f.dbType,
				Host:           f.host,
				Port:           f.port,
				DatabaseName:   f.database,
				Username:       f.user,
				SSLMode:        f.sslMode,
				Schemas:        f.schemas,
				TableBlacklist: f.blacklist,
				Metadata:       metadata,
			}
			password := os.Getenv(f.passwordEnv)

			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				created, err := a.sources.Create(ctx, reg, password)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), created)
			})
		},
	}
	f.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func newSourcesUpdateCommand(opts *rootOptions) *cobra.Command {
	f := &sourceFlags{}
	var (
		setPassword bool
		active      bool
	)
	cmd := &cobra.Command{
		Use:   "update ID|NAME",
		Short: "Change a registration; only the given flags are applied",
		Long: `Update applies only the flags given on the command line. The stored
password is kept unless --set-password is passed, in which case it is read
from the --password-env variable.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upd, err := f.toUpdate(cmd.Flags())
			if err != nil {
				return err
			}
			if setPassword {
				pw := os.Getenv(f.passwordEnv)
				upd.Password = &pw
			}
			if cmd.Flags().Changed("active") {
				upd.Active = &active
			}

			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				reg, err := lookupSource(ctx, a, args[0])
				if err != nil {
					return err
				}
				updated, err := a.sources.Update(ctx, reg.ID, upd)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), updated)
			})
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().BoolVar(&setPassword, "set-password", false, "replace the stored password")
	cmd.Flags().BoolVar(&active, "active", true, "mark the registration active or inactive")
	return cmd
}

// toUpdate builds a partial update from the flags that were set explicitly.
func (f *sourceFlags) toUpdate(fs *pflag.FlagSet) (*models.SourceUpdate, error) {
	upd := &models.SourceUpdate{}
	if fs.Changed("name") {
		upd.Name = &f.name
	}
	if fs.Changed("host") {
		upd.Host = &f.host
	}
	if fs.Changed("port") {
		upd.Port = &f.port
	}
	if fs.Changed("database") {
		upd.DatabaseName = &f.database
	}
	if fs.Changed("user") {
		upd.Username = &f.user
	}
	if fs.Changed("ssl-mode") {
		upd.SSLMode = &f.sslMode
	}
	if fs.Changed("schemas") {
		upd.Schemas = nonNil(f.schemas)
	}
	if fs.Changed("blacklist") {
		upd.TableBlacklist = nonNil(f.blacklist)
	}
	if fs.Changed("metadata") {
		m, err := f.decodeMetadata()
		if err != nil {
			return nil, err
		}
		upd.Metadata = m
	}
	if fs.Changed("type") {
		return nil, fmt.Errorf("--type cannot be changed; register a new source instead")
	}
	return upd, nil
}

// nonNil keeps an explicitly emptied list distinct from "unchanged".
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func newSourcesListCommand(opts *rootOptions) *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered source databases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				var (
					regs []*models.SourceRegistration
					err  error
				)
				if activeOnly {
					regs, err = a.sources.ListActive(ctx)
				} else {
					regs, err = a.sources.List(ctx)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), regs)
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active registrations")
	return cmd
}

func newSourcesDeactivateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate ID|NAME",
		Short: "Exclude a registration from future scans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, opts, func(ctx context.Context, a *app) error {
				reg, err := lookupSource(ctx, a, args[0])
				if err != nil {
					return err
				}
				if err := a.sources.Deactivate(ctx, reg.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s (%s)\n", reg.Name, reg.ID)
				return nil
			})
		},
	}
}
