// Package clinicctl is the operator command line: account maintenance and
// manual backup, restore and retention runs.
package clinicctl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/jwalitptl/clinic-records/internal/model"
	"github.com/jwalitptl/clinic-records/internal/service/audit"
)

const (
	Name  = "clinicctl"
	Usage = "Clinic records administration"

	dateLayout = "2006-01-02"
)

type UserAdmin interface {
	CreateUser(ctx context.Context, req *model.CreateUserRequest) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, password string) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

type BackupAdmin interface {
	PerformBackup(ctx context.Context) (*model.BackupResult, error)
	ListBackups(ctx context.Context) ([]model.BackupArtifact, error)
	RestoreFromBackup(ctx context.Context, key string) (*model.RestoreResult, error)
	PruneOldBackups(ctx context.Context) (*model.RetentionResult, error)
}

type Deps struct {
	Users   UserAdmin
	Backups BackupAdmin
}

// Opener builds the dependencies on first use so that --help never needs a
// database. The returned func releases them.
type Opener func() (*Deps, func(), error)

func GetApp(open Opener) *cli.App {
	app := cli.NewApp()
	app.Name = Name
	app.Usage = Usage

	var username, password, userEmail, role, expires, key string

	withDeps := func(fn func(ctx context.Context, d *Deps) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			d, closeFn, err := open()
			if err != nil {
				return err
			}
			defer closeFn()
			ctx := audit.WithActor(context.Background(), audit.Actor{UserAgent: Name})
			return fn(ctx, d)
		}
	}

	usernameFlag := cli.StringFlag{Name: "username", Usage: "Login name of the account", Destination: &username}
	passwordFlag := cli.StringFlag{Name: "password", Usage: "New password (min 8 characters)", Destination: &password}

	app.Commands = []cli.Command{
		{
			Name:     "create-user",
			Category: "Accounts",
			Usage:    "Create a user account",
			Flags: []cli.Flag{
				usernameFlag,
				passwordFlag,
				cli.StringFlag{Name: "email", Usage: "Email address, defaults to <username>@<domain>", Destination: &userEmail},
				cli.StringFlag{Name: "role", Usage: "admin or user", Value: string(model.RoleUser), Destination: &role},
				cli.StringFlag{Name: "expires", Usage: "Expiry date as YYYY-MM-DD", Destination: &expires},
			},
			Action: withDeps(func(ctx context.Context, d *Deps) error {
				if err := required("username", username, "password", password); err != nil {
					return err
				}
				req := &model.CreateUserRequest{
					Username: username,
					Email:    userEmail,
					Password: password,
					Role:     model.Role(strings.ToLower(role)),
				}
				if req.Role != model.RoleAdmin && req.Role != model.RoleUser {
					return fmt.Errorf("role must be %q or %q", model.RoleAdmin, model.RoleUser)
				}
				if expires != "" {
					t, err := time.ParseInLocation(dateLayout, expires, time.Local)
					if err != nil {
						return fmt.Errorf("invalid --expires %q, want YYYY-MM-DD", expires)
					}
					req.ExpiresAt = &t
				}

				u, err := d.Users.CreateUser(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Writer, "created %s (%s) %s\n", u.Username, u.Role, u.ID)
				return nil
			}),
		},
		{
			Name:     "list-users",
			Category: "Accounts",
			Usage:    "List user accounts",
			Action: withDeps(func(ctx context.Context, d *Deps) error {
				users, err := d.Users.ListUsers(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(app.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "USERNAME\tEMAIL\tROLE\tEXPIRES")
				for _, u := range users {
					exp := "-"
					if u.ExpiresAt != nil {
						exp = u.ExpiresAt.Format(dateLayout)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.Username, u.Email, u.Role, exp)
				}
				return w.Flush()
			}),
		},
		{
			Name:     "update-password",
			Category: "Accounts",
			Usage:    "Set a new password for a user",
			Flags:    []cli.Flag{usernameFlag, passwordFlag},
			Action: withDeps(func(ctx context.Context, d *Deps) error {
				if err := required("username", username, "password", password); err != nil {
					return err
				}
				u, err := d.Users.GetByUsername(ctx, username)
				if err != nil {
					return err
				}
				if err := d.Users.UpdatePassword(ctx, u.ID, password); err != nil {
					return err
				}
				fmt.Fprintf(app.Writer, "password updated for %s\n", u.Username)
				return nil
			}),
		},
		{
			Name:     "delete-user",
			Category: "Accounts",
			Usage:    "Delete a user account",
			Flags:    []cli.Flag{usernameFlag},
			Action: withDeps(func(ctx context.Context, d *Deps) error {
				if err := required("username", username); err != nil {
					return err
				}
				u, err := d.Users.GetByUsername(ctx, username)
				if err != nil {
					return err
				}
				if err := d.Users.DeleteUser(ctx, u.ID); err != nil {
					return err
				}
				fmt.Fprintf(app.Writer, "deleted %s\n", u.Username)
				return nil
			}),
		},
		{
			Name:     "backup",
			Category: "Backups",
			Usage:    "Take a backup now",
			Action: withDeps(func(ctx context.Context, d *Deps) error {
				res, err := d.Backups.PerformBackup(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Writer, "stored %s (%d bytes)\n", res.Filename, res.Size)
				return nil
			}),
		},
		{
			Name:     "list-backups",
			Category: "Backups",
			Usage:    "List stored backups, newest first",
			Action: withDeps(func(ctx context.Context, d *Deps) error {
				artifacts, err := d.Backups.ListBackups(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(app.Writer, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tLAST MODIFIED\tSIZE")
				for _, a := range artifacts {
					fmt.Fprintf(w, "%s\t%s\t%d\n", a.Key, a.LastModified.UTC().Format(time.RFC3339), a.Size)
				}
				return w.Flush()
			}),
		},
		{
			Name:     "restore",
			Category: "Backups",
			Usage:    "Replace the database contents with a stored backup",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "key", Usage: "Object key of the backup", Destination: &key},
			},
			Action: withDeps(func(ctx context.Context, d *Deps) error {
				if err := required("key", key); err != nil {
					return err
				}
				res, err := d.Backups.RestoreFromBackup(ctx, key)
				if err != nil {
					return err
				}
				fmt.Fprintln(app.Writer, res.Message)
				for table, n := range res.Tables {
					fmt.Fprintf(app.Writer, "  %s: %d rows\n", table, n)
				}
				return nil
			}),
		},
		{
			Name:     "prune",
			Category: "Backups",
			Usage:    "Apply the backup retention policy",
			Action: withDeps(func(ctx context.Context, d *Deps) error {
				res, err := d.Backups.PruneOldBackups(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Writer, "deleted %d, remaining %d\n", res.DeletedCount, res.RemainingCount)
				return nil
			}),
		},
	}
	return app
}

// required takes name/value pairs.
func required(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, "--"+pairs[i])
		}
	}
	if len(missing) > 0 {
		return errors.New(strings.Join(missing, ", ") + " required")
	}
	return nil
}
