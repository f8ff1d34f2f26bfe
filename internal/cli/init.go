package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/command-center/internal/core"
	"github.com/valter-silva-au/command-center/internal/storage"
	"github.com/valter-silva-au/command-center/pkg/models"
)

// ProjectInit is the ProjectInitializer used by the init command.
// Set during application wiring.
var ProjectInit core.ProjectInitializer

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Initialize a new Command Center workspace",
	Long: `Initialize a new or existing directory as a Command Center workspace: a
.ccconfig file, the .ccenter data directory, a declarative rules.yaml and
sample module records under modules/.

Safe to run on existing workspaces -- files and directories that already
exist are skipped and not overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ProjectInit == nil {
			return fmt.Errorf("project initializer not initialized")
		}

		basePath := "."
		if len(args) > 0 {
			basePath = args[0]
		}
		absPath, err := filepath.Abs(basePath)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		tier, _ := cmd.Flags().GetString("tier")
		backend, _ := cmd.Flags().GetString("backend")
		samples, _ := cmd.Flags().GetBool("samples")

		initCfg := core.InitConfig{
			BasePath: absPath,
			Tier:     models.Tier(tier),
			Backend:  models.StorageBackend(backend),
		}
		if samples {
			initCfg.Records = storage.NewRecordDirectory(filepath.Join(absPath, "modules"))
		}

		result, err := ProjectInit.Init(initCfg)
		if err != nil {
			return fmt.Errorf("initializing workspace: %w", err)
		}

		if len(result.Created) > 0 {
			fmt.Println("Created:")
			for _, p := range result.Created {
				rel, _ := filepath.Rel(absPath, p)
				fmt.Printf("  %s\n", rel)
			}
		}
		if len(result.Skipped) > 0 {
			fmt.Println("Skipped (already exist):")
			for _, p := range result.Skipped {
				rel, _ := filepath.Rel(absPath, p)
				fmt.Printf("  %s\n", rel)
			}
		}

		fmt.Printf("\nWorkspace initialized at %s\n", absPath)
		return nil
	},
}

func init() {
	initCmd.Flags().String("tier", string(models.TierFree), "Usage tier (free, standard, premium)")
	initCmd.Flags().String("backend", string(models.BackendFile), "Storage backend (file, sqlite)")
	initCmd.Flags().Bool("samples", true, "Write sample module records")
	rootCmd.AddCommand(initCmd)
}
