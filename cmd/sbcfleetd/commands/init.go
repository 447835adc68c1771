package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telique/sbcfleet/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample sbcfleet configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/sbcfleet/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  sbcfleetd init

  # Initialize with custom path
  sbcfleetd init --config /etc/sbcfleet/config.yaml

  # Force overwrite existing config
  sbcfleetd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		// Use custom path
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		// Use default path
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Add appliances to the database, or configure the fallback appliance:")
	fmt.Printf("       export %s=https://sbc.example.net:12358\n", config.EnvFallbackBaseURL)
	fmt.Printf("       export %s=ops\n", config.EnvFallbackUsername)
	fmt.Printf("       export %s=...\n", config.EnvFallbackPassword)
	fmt.Println("  3. Start the daemon with: sbcfleetd start")

	return nil
}
