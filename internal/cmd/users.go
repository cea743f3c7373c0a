package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/verdant-io/verdant/internal/cli"
	"github.com/verdant-io/verdant/internal/config"
	"github.com/verdant-io/verdant/internal/userstore"
)

func newUsersCmd() *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage the user store while the server is offline",
	}
	users.AddCommand(newUsersListCmd())
	users.AddCommand(newUsersAddCmd())
	return users
}

func newUsersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			for _, u := range store.GetAll() {
				fmt.Printf("%-4d %-20s %s\n", u.ID, u.Username, u.Role)
			}
			return nil
		},
	}
}

func newUsersAddCmd() *cobra.Command {
	var role string

	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a user (prompts for the password)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}

			prompter := cli.DefaultPrompter()
			password := prompter.AskPassword("Password")
			if password == "" {
				return fmt.Errorf("password must not be empty")
			}

			id := store.Register(args[0], password, role)
			fmt.Printf("user %q added with id %d\n", args[0], id)
			return nil
		},
	}
	add.Flags().StringVar(&role, "role", userstore.RoleViewer, "role for the new user")
	return add
}

func openStore(cmd *cobra.Command) (*userstore.Store, error) {
	cfg, err := config.Load(resolveConfigPath(cmd, nil, "verdant-config.json"))
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return userstore.New(cfg.Users.File, logger), nil
}
