package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration",
	Long: `Write a commented default configuration to .tickettrail/config.yaml
(or the --config path). Fill in the spreadsheet id, the credentials file
and the ticket list URLs before starting a runner.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing configuration")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.WriteDefault(path, initForce); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%w (use --force to overwrite)", err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration written to", path)
	fmt.Fprintln(out, "Run 'tickettrail doctor' to verify the setup")
	return nil
}
