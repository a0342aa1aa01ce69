package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"dfsportal/internal/auth"
	"dfsportal/internal/types"
)

func newListCmd(c *cli) *cobra.Command {
	var station string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts, newest first, with their expiry state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, err := c.env.Store.ListAll(cmd.Context())
			if err != nil {
				return err
			}
			rows := all[:0:0]
			for _, d := range all {
				if station == "" || d.Station == station {
					rows = append(rows, d)
				}
			}

			if asJSON {
				enc := json.NewEncoder(out(cmd))
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STATION\tDATE\tSAVED\tREMAINING\tSTATE\tBYTES")
			for _, d := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.1fh\t%s\t%d\n",
					d.Station, d.Date, d.SavedAt.Format("2006-01-02 15:04"),
					d.TimeRemainingHours, state(d), d.SizeBytes)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&station, "station", "", "only show drafts for this station")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func state(d types.DraftSummary) string {
	switch {
	case d.Expired:
		return "expired"
	case d.ExpiringSoon:
		return "expiring"
	default:
		return "ok"
	}
}

func newGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get STATION DATE",
		Short: "Print the payload of a live draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, ok := c.env.Store.Get(cmd.Context(), args[0], args[1])
			if !ok {
				return fmt.Errorf("no live draft for %s %s", args[0], args[1])
			}
			enc := json.NewEncoder(out(cmd))
			enc.SetIndent("", "  ")
			return enc.Encode(d)
		},
	}
}

func newDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "delete STATION DATE",
		Short: "Delete one draft",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			existed, err := c.env.Store.Delete(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !existed {
				fmt.Fprintf(out(cmd), "no draft for %s %s\n", args[0], args[1])
				return nil
			}
			fmt.Fprintf(out(cmd), "deleted %s %s\n", args[0], args[1])
			return nil
		},
	}
}

func newCleanupCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove every expired draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			removed, err := c.env.Cleaner.CleanupExpired(operatorContext(cmd.Context()))
			fmt.Fprintf(out(cmd), "removed %d expired drafts\n", removed)
			return err
		},
	}
}

func newUsageCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show how many drafts are stored and their total size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := c.env.Store.TotalUsage(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "%d drafts, %d bytes\n", u.Count, u.TotalBytes)
			return nil
		},
	}
}

func newExportCmd(c *cli) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write live drafts as a zstd-compressed JSON lines stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := out(cmd)
			if path != "-" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			n, err := c.env.Store.Export(cmd.Context(), w)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d drafts\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "output", "o", "-", "output file (- for stdout)")
	return cmd
}

func newImportCmd(c *cli) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Restore drafts from an export stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var r io.Reader = cmd.InOrStdin()
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			n, err := c.env.Store.Import(cmd.Context(), r)
			fmt.Fprintf(out(cmd), "imported %d drafts\n", n)
			return err
		},
	}
	cmd.Flags().StringVarP(&path, "input", "i", "-", "input file (- for stdin)")
	return cmd
}

var errNoDatabase = errors.New("this command needs DATABASE_URL")

func newMigratePermissionsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-permissions",
		Short: "Rewrite stored permission documents in the current layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.env.Migrator == nil {
				return errNoDatabase
			}
			n, err := c.env.Migrator.MigratePermissions(cmd.Context())
			fmt.Fprintf(out(cmd), "migrated %d profiles\n", n)
			return err
		},
	}
}

func newIssueTokenCmd(c *cli) *cobra.Command {
	var (
		id       string
		name     string
		stations []string
		grants   []string
	)

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Create a profile and print its access token once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.env.Profiles == nil {
				return errNoDatabase
			}
			perms, err := parseGrants(stations, grants)
			if err != nil {
				return err
			}
			tok, err := auth.GenerateToken()
			if err != nil {
				return err
			}

			p := &types.Profile{
				ID:          id,
				DisplayName: name,
				TokenPrefix: tok.Prefix,
				TokenHash:   tok.Hash,
				Permissions: perms,
			}
			if err := c.env.Profiles.Create(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(out(cmd), "profile %s created\ntoken: %s\n", p.ID, tok.Raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "profile id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&stations, "station", nil, "restrict to these stations (repeatable; default all)")
	cmd.Flags().StringSliceVar(&grants, "grant", nil, "module=access grant, e.g. drafts=write (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// parseGrants builds a permission document from --station and --grant flags.
func parseGrants(stations, grants []string) (types.Permissions, error) {
	p := types.Permissions{
		Version:  types.PermissionsVersion,
		Stations: stations,
		Modules:  make(map[types.Module]types.Access, len(grants)),
	}
	for _, g := range grants {
		mod, level, ok := strings.Cut(g, "=")
		if !ok {
			return types.Permissions{}, fmt.Errorf("grant %q: want module=access", g)
		}
		m := types.Module(strings.TrimSpace(mod))
		if !m.IsKnown() {
			return types.Permissions{}, fmt.Errorf("grant %q: unknown module %q", g, m)
		}
		a, err := types.ParseAccess(strings.TrimSpace(level))
		if err != nil {
			return types.Permissions{}, fmt.Errorf("grant %q: %w", g, err)
		}
		p.Modules[m] = a
	}
	return p, nil
}
