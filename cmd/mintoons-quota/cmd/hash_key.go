package cmd

import (
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [admin-key]",
	Short: "Generate an argon2id hash for the admin key",
	Long: `Generate an argon2id hash of an admin key for use in config.

The output can be used directly as the admin.key_hash config value.
Remote callers of the admin API must then present the plain key in the
X-Admin-Key header.

Example:
  mintoons-quota hash-key "my-secret-admin-key"

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  mintoons-quota hash-key "$MINTOONS_ADMIN_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := argon2id.CreateHash(args[0], argon2id.DefaultParams)
		if err != nil {
			return fmt.Errorf("failed to hash key: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
