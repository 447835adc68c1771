package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/telique/sbcfleet/internal/logger"
	"github.com/telique/sbcfleet/pkg/config"
)

var (
	syncAppliance string
	syncConfigRef string
	syncReplace   bool
	syncRemovals  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a one-shot inventory sync",
	Long: `Run a one-shot inventory sync and exit.

By default every active appliance's digit-map files are exported and the
number inventory is refreshed. With --replace, the extracted numbers are
also reconciled against the customer number table: additions are inserted,
ownership changes renamed, and disappeared numbers scheduled for removal
at the end of the current month.

Examples:
  # Refresh the inventory of every active appliance
  sbcfleetd sync

  # Refresh a single appliance
  sbcfleetd sync --appliance sbc-east-1

  # Full reconciliation including scheduled removals
  sbcfleetd sync --replace

  # Execute removals that have come due
  sbcfleetd sync --process-removals`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncAppliance, "appliance", "", "Sync only this appliance (default: all active)")
	syncCmd.Flags().StringVar(&syncConfigRef, "config-ref", "", "ProSBC configuration to target (default: PROSBC_CONFIG_ID or \"3\")")
	syncCmd.Flags().BoolVar(&syncReplace, "replace", false, "Reconcile customer numbers after syncing (add/rename/schedule removals)")
	syncCmd.Flags().BoolVar(&syncRemovals, "process-removals", false, "Execute pending removals that are due")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	st, orch, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Store close error", "error", err)
		}
	}()

	ctx := cmd.Context()

	configRef := syncConfigRef
	if configRef == "" {
		configRef = defaultConfigRef()
	}

	if syncRemovals {
		processed, err := orch.ProcessPendingRemovals(ctx, time.Now())
		fmt.Printf("Processed %d due removals\n", processed)
		if err != nil {
			return fmt.Errorf("removal sweep finished with errors: %w", err)
		}
		return nil
	}

	if syncReplace {
		reports, err := orch.ReplaceAll(ctx, configRef, "cli")
		printJSON(reports)
		if err != nil {
			return fmt.Errorf("reconciliation finished with errors: %w", err)
		}
		return nil
	}

	if syncAppliance != "" {
		report, err := orch.SyncDmInventory(ctx, syncAppliance, configRef)
		if report != nil {
			printJSON(report)
		}
		if err != nil {
			return fmt.Errorf("sync of %s failed: %w", syncAppliance, err)
		}
		return nil
	}

	// All active appliances, inventory only.
	appliances, err := st.ListActiveAppliances(ctx)
	if err != nil {
		return fmt.Errorf("failed to list appliances: %w", err)
	}
	if len(appliances) == 0 {
		fmt.Println("No active appliances configured")
		return nil
	}

	var failed int
	for _, app := range appliances {
		report, err := orch.SyncDmInventory(ctx, app.ID, configRef)
		if report != nil {
			printJSON(report)
		}
		if err != nil {
			failed++
			logger.Error("Sync failed", "appliance", app.ID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d appliances failed to sync", failed, len(appliances))
	}
	return nil
}

// printJSON writes an indented JSON report to stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
