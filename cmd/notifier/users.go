package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"bcpea_notifier/internal/model"
)

var (
	flagUserName    string
	flagUserApprove bool
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage subscribers",
}

var usersAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Register a subscriber",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		u := &model.User{Name: flagUserName, Email: args[0]}
		if flagUserApprove {
			u.Status = model.UserApproved
		}
		if err := a.store.CreateUser(cmd.Context(), u); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %d (%s) created, status %s\n", u.ID, u.Email, u.Status)
		return nil
	},
}

var usersApproveCmd = &cobra.Command{
	Use:   "approve <email>",
	Short: "Approve a pending subscriber",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		u, err := a.store.GetUserByEmail(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("find user %s: %w", args[0], err)
		}
		if err := a.store.ApproveUser(cmd.Context(), u.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %s approved\n", u.Email)
		return nil
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <email>",
	Short: "Delete a subscriber and their subscriptions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		u, err := a.store.GetUserByEmail(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("find user %s: %w", args[0], err)
		}
		if err := a.store.DeleteUser(cmd.Context(), u.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "user %s deleted\n", u.Email)
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List subscribers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := setup()
		if err != nil {
			return err
		}
		defer a.close()

		users, err := a.store.ListUsers(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tSTATUS\tCREATED")
		for _, u := range users {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Status, u.CreatedAt.Format("2006-01-02"))
		}
		return w.Flush()
	},
}

func init() {
	usersAddCmd.Flags().StringVar(&flagUserName, "name", "", "display name")
	usersAddCmd.Flags().BoolVar(&flagUserApprove, "approve", false, "approve the subscriber immediately")

	usersCmd.AddCommand(usersAddCmd, usersApproveCmd, usersDeleteCmd, usersListCmd)
}
