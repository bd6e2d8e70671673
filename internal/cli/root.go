package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/BradenHooton/clinicauth/internal/models"
	"github.com/BradenHooton/clinicauth/internal/services"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// AdminOperations are the account operations an operator can run
type AdminOperations interface {
	Approve(ctx context.Context, actorID, accountID string) (*models.Account, error)
	Reject(ctx context.Context, actorID, accountID string) (*models.Account, error)
	Unlock(ctx context.Context, actorID, accountID string) (*models.Account, error)
	CreateStaffAccount(ctx context.Context, actorID string, input services.StaffAccountInput) (*models.Account, error)
	ListPending(ctx context.Context, limit int) ([]*models.Account, error)
}

// Migrator applies and reports schema migrations
type Migrator interface {
	Migrate(ctx context.Context) error
	MigrationVersion(ctx context.Context) (int64, error)
}

// Runtime is what a command needs once storage is open. Close flushes queued
// email and releases connections.
type Runtime struct {
	Admin    AdminOperations
	Migrator Migrator
	Close    func()
}

// Opener builds a Runtime; commands call it lazily so --help works without a database
type Opener func(ctx context.Context) (*Runtime, error)

type rootOptions struct {
	open    Opener
	json    bool
	actorID string
}

// NewRootCmd builds the accountctl command tree
func NewRootCmd(open Opener) *cobra.Command {
	opts := &rootOptions{open: open}

	root := &cobra.Command{
		Use:   "accountctl",
		Short: "Operator tool for clinic staff accounts",
		Long: `accountctl runs administrative account operations directly against the
database, for bootstrapping the first administrator and for recovery.

  accountctl migrate                              Apply pending migrations
  accountctl create-staff --handle ADMIN1 \
      --name "Clinic Admin" --email a@clinic.test --role admin
  accountctl list-pending                         Accounts awaiting approval
  accountctl approve <account-id>`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.actorID == "" {
				return nil
			}
			if _, err := uuid.Parse(opts.actorID); err != nil {
				return fmt.Errorf("--actor must be an account id: %w", err)
			}
			return nil
		},
	}

	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Output as JSON")
	root.PersistentFlags().StringVar(&opts.actorID, "actor", "", "Administrator account id recorded as the actor")

	root.AddCommand(
		newMigrateCmd(opts),
		newTransitionCmd(opts, "approve", "Approve an account awaiting approval", func(a AdminOperations) transition { return a.Approve }),
		newTransitionCmd(opts, "reject", "Reject a pending registration", func(a AdminOperations) transition { return a.Reject }),
		newTransitionCmd(opts, "unlock", "Unlock a locked account", func(a AdminOperations) transition { return a.Unlock }),
		newCreateStaffCmd(opts),
		newListPendingCmd(opts),
	)
	return root
}

// withRuntime opens the runtime for the duration of fn
func (o *rootOptions) withRuntime(cmd *cobra.Command, fn func(rt *Runtime) error) error {
	rt, err := o.open(cmd.Context())
	if err != nil {
		return err
	}
	if rt.Close != nil {
		defer rt.Close()
	}
	return fn(rt)
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
