package command

import (
	"fmt"
	"io"

	"github.com/npezzotti/go-estate-chat/internal/api"
	"github.com/spf13/cobra"
)

func NewLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a bearer token",
		Long:  "Log in and print a bearer token, e.g. export " + tokenEnv + "=$(estate-chat login --email ... --password ...)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(cmd, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				if password, err = readPassword(cmd.InOrStdin()); err != nil {
					return err
				}
			}

			client := api.NewClient(e.cfg.APIBaseURL, nil, nil, e.log)
			resp, err := client.Login(cmd.Context(), email, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}

	cmd.Flags().String("email", "", "account email")
	cmd.Flags().String("password", "", "account password (read from stdin if empty)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func readPassword(in io.Reader) (string, error) {
	var password string
	if _, err := fmt.Fscanln(in, &password); err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return password, nil
}
