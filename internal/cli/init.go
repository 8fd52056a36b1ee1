package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const scaffold = `# sysconverge declaration
#
# Every account expands to its login, home directory, profile, SSH keys,
# sudoers entry and optional password lock. Emails are merged into the
# mail alias file after all accounts have converged.

accounts:
  - name: admin
    state: present
    email: admin@example.com
    shell: /bin/bash
    groups: [adm]
    sudo: true
    sshKeys: []

# Installed before sudoers entries are written.
packages: [sudo]

# Installed while at least one account receives mail.
notifyPackages: [logwatch]

aliasFile: /etc/aliases
`

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a new sysconverge project",
	Long:  `Creates a sample declaration and the state directory.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	if err := os.MkdirAll(filepath.Join(dir, ".sysconverge"), 0o755); err != nil {
		return fmt.Errorf("failed to create .sysconverge directory: %w", err)
	}

	declaration := filepath.Join(dir, "sysadmin.yaml")
	if _, err := os.Stat(declaration); os.IsNotExist(err) {
		if err := os.WriteFile(declaration, []byte(scaffold), 0o644); err != nil {
			return fmt.Errorf("failed to create %s: %w", declaration, err)
		}
		fmt.Fprintf(out, "Created %s\n", declaration)
	} else {
		fmt.Fprintf(out, "%s already exists, leaving it unchanged\n", declaration)
	}

	fmt.Fprintln(out, "\nsysconverge initialized successfully!")
	fmt.Fprintln(out, "Next steps:")
	fmt.Fprintln(out, "  1. Edit sysadmin.yaml to declare your accounts")
	fmt.Fprintln(out, "  2. Run 'sysconverge plan' to see what will change")
	fmt.Fprintln(out, "  3. Run 'sysconverge apply' to converge the host")
	return nil
}
