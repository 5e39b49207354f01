package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/karapace-operator/pkg/client"
	"github.com/cuemby/karapace-operator/pkg/config"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the replica status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Unit:     %s\n", st.Unit)
		fmt.Printf("Status:   %s (%s)\n", st.Status, st.Severity)
		if st.Message != "" {
			fmt.Printf("Message:  %s\n", st.Message)
		}
		fmt.Printf("Leader:   %t\n", st.Leader)
		if st.Version != "" {
			fmt.Printf("Version:  %s\n", st.Version)
		}
		return nil
	},
}

var getPasswordCmd = &cobra.Command{
	Use:   "get-password",
	Short: "Print the admin password of the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, ctx, cancel, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		resp, err := c.GetPassword(ctx)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var setPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Rotate a registry password (leader replica only)",
	Long: `Rotate the password of a registry user. Without --username the admin
user is rotated; without --password a random password is generated.

The new password is rolled out to every replica by a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")

		c, ctx, cancel, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		resp, err := c.SetPassword(ctx, username, password)
		if client.IsConflict(err) {
			return fmt.Errorf("%w: run the action against the leader replica", err)
		}
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var setTLSPrivateKeyCmd = &cobra.Command{
	Use:   "set-tls-private-key",
	Short: "Install the private key used for the replica certificate",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		if file, _ := cmd.Flags().GetString("key-file"); file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read key file: %w", err)
			}
			key = string(data)
		}
		if key == "" {
			return fmt.Errorf("--key or --key-file is required")
		}

		c, ctx, cancel, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer cancel()

		if err := c.SetTLSPrivateKey(ctx, key); err != nil {
			return err
		}
		fmt.Println("✓ Private key installed, a new certificate will be requested")
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, getPasswordCmd, setPasswordCmd, setTLSPrivateKeyCmd} {
		cmd.Flags().String("addr", "127.0.0.1:9090", "Operator API address")
		cmd.Flags().String("secret", "", "API secret (default $KARAPACE_OPERATOR_API_SECRET)")
		cmd.Flags().Duration("timeout", 30*time.Second, "Request timeout")
	}

	setPasswordCmd.Flags().String("username", "", "User to rotate (default: admin user)")
	setPasswordCmd.Flags().String("password", "", "New password (default: generated)")

	setTLSPrivateKeyCmd.Flags().String("key", "", "PEM or base64 encoded PEM private key")
	setTLSPrivateKeyCmd.Flags().String("key-file", "", "File holding the private key")
}

func newClient(cmd *cobra.Command) (*client.Client, context.Context, context.CancelFunc, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnv(envFile); err != nil {
		return nil, nil, nil, err
	}

	addr, _ := cmd.Flags().GetString("addr")
	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = config.Env("API_SECRET")
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	c, err := client.NewClient(addr, []byte(secret))
	if err != nil {
		return nil, nil, nil, err
	}
	if user := os.Getenv("USER"); user != "" {
		c.WithSubject(user)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return c, ctx, cancel, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
