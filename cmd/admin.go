package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fleet-dispatch/internal/users"
)

var adminReq users.RegisterRequest

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			req := adminReq
			req.Role = users.RoleAdmin
			u, err := a.users.Register(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", u.Email, u.ID)
			return nil
		})
	},
}

func init() {
	f := createAdminCmd.Flags()
	f.StringVar(&adminReq.Name, "name", "", "display name")
	f.StringVar(&adminReq.Email, "email", "", "login email")
	f.StringVar(&adminReq.Phone, "phone", "", "phone number")
	f.StringVar(&adminReq.Password, "password", "", "password")
	createAdminCmd.MarkFlagRequired("email")
	createAdminCmd.MarkFlagRequired("password")
}
