package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/arkwarden"
)

// Login exchanges --user/--password for a bearer token and prints it.
func (c command) Login() error {
	if c.flags.User == "" {
		return errors.New("login needs --user")
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.flags.APITimeout)
	defer cancel()
	tok, err := c.client(cfg).Login(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return nil
}

// HashPassword prints the bcrypt hash for an [[auth.users]] entry. The
// password comes from the argument or the first line of in.
func HashPassword(args []string, in io.Reader) error {
	var pw string
	if len(args) > 0 {
		pw = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	h, err := arkwarden.HashPassword(pw)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(stdout, h)
	return nil
}

func createLoginCommand(cmd command) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Obtain an API bearer token",
		Long: `Exchange basic credentials for a bearer token.

Examples:
  arkwarden login --user=admin --password=secret
  export ARKWARDEN_TOKEN=$(arkwarden login --user=admin)`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return cmd.Login()
		},
	}
}

func createHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for the [auth] users list",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return HashPassword(args, c.InOrStdin())
		},
	}
}
