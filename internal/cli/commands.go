package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/BradenHooton/clinicauth/internal/services"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type transition func(ctx context.Context, actorID, accountID string) (*models.Account, error)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(rt *Runtime) error {
				if !statusOnly {
					if err := rt.Migrator.Migrate(cmd.Context()); err != nil {
						return err
					}
				}
				version, err := rt.Migrator.MigrationVersion(cmd.Context())
				if err != nil {
					return fmt.Errorf("reading schema version: %w", err)
				}
				fmt.Fprintf(out(cmd), "schema version: %d\n", version)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "Only print the current schema version")
	return cmd
}

func newTransitionCmd(opts *rootOptions, use, short string, pick func(AdminOperations) transition) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <account-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("invalid account id %q", args[0])
			}
			return opts.withRuntime(cmd, func(rt *Runtime) error {
				acc, err := pick(rt.Admin)(cmd.Context(), opts.actorID, args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", use, err)
				}
				return opts.printAccount(out(cmd), acc)
			})
		},
	}
}

func newCreateStaffCmd(opts *rootOptions) *cobra.Command {
	var input services.StaffAccountInput
	cmd := &cobra.Command{
		Use:   "create-staff",
		Short: "Create an active staff account with an emailed temporary password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(rt *Runtime) error {
				acc, err := rt.Admin.CreateStaffAccount(cmd.Context(), opts.actorID, input)
				if err != nil {
					return fmt.Errorf("create-staff: %w", err)
				}
				return opts.printAccount(out(cmd), acc)
			})
		},
	}
	cmd.Flags().StringVar(&input.Handle, "handle", "", "Login handle")
	cmd.Flags().StringVar(&input.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&input.Email, "email", "", "Email address the temporary password is sent to")
	cmd.Flags().StringVar(&input.Role, "role", models.RoleStaff, "Role: staff, doctor, receptionist or admin")
	_ = cmd.MarkFlagRequired("handle")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newListPendingCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list-pending",
		Short: "List verified accounts awaiting approval, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withRuntime(cmd, func(rt *Runtime) error {
				accounts, err := rt.Admin.ListPending(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if opts.json {
					views := make([]accountView, 0, len(accounts))
					for _, acc := range accounts {
						views = append(views, newAccountView(acc))
					}
					return writeJSON(out(cmd), views)
				}
				if len(accounts) == 0 {
					fmt.Fprintln(out(cmd), "No accounts awaiting approval.")
					return nil
				}
				tw := tabwriter.NewWriter(out(cmd), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tHANDLE\tNAME\tEMAIL\tREGISTERED")
				for _, acc := range accounts {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", acc.ID, acc.Handle, acc.Name, acc.Email, acc.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum accounts to list")
	return cmd
}

type accountView struct {
	ID         string `json:"id"`
	Handle     string `json:"handle"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	Status     string `json:"status"`
	FirstLogin bool   `json:"first_login"`
}

func newAccountView(acc *models.Account) accountView {
	return accountView{
		ID:         acc.ID,
		Handle:     acc.Handle,
		Email:      acc.Email,
		Role:       acc.Role,
		Status:     string(acc.Status),
		FirstLogin: acc.FirstLogin,
	}
}

func (o *rootOptions) printAccount(w io.Writer, acc *models.Account) error {
	view := newAccountView(acc)
	if o.json {
		return writeJSON(w, view)
	}
	_, err := fmt.Fprintf(w, "%s %s (%s) status=%s role=%s\n", view.ID, view.Handle, view.Email, view.Status, view.Role)
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
