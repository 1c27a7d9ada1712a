package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vyrodovalexey/kubeauth/internal/auth/local"
)

var errEmptyPassword = errors.New("password must not be empty")

// newHashPasswordCommand prints an argon2id digest suitable for the
// password field of the json_auth user file.
func newHashPasswordCommand() *cobra.Command {
	params := local.DefaultArgon2Params

	cmd := &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Hash a password for the json_auth user file",
		Long: "Hash a password with argon2id. The password is read from the first " +
			"argument or, when omitted, from the first line of standard input.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, args)
			if err != nil {
				return err
			}
			digest, err := local.HashPassword(password, params)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), digest)
			return err
		},
	}

	fs := cmd.Flags()
	fs.Uint32Var(&params.Memory, "memory", params.Memory, "argon2 memory cost in KiB")
	fs.Uint32Var(&params.Time, "iterations", params.Time, "argon2 time cost")
	fs.Uint8Var(&params.Threads, "parallelism", params.Threads, "argon2 parallelism")
	return cmd
}

func readPassword(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		if args[0] == "" {
			return "", errEmptyPassword
		}
		return args[0], nil
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errEmptyPassword
	}
	return line, nil
}
