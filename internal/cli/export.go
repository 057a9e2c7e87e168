package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/chronolock/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long: "Export the owner's memories as JSON, encryption keys included. " +
			"The export is the only backup of the keys; store it like a password.",
		Run: runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	a := newApp()
	defer a.close()

	memories, err := store.Export(cmd.Context(), a.store, a.owner())
	if err != nil {
		a.close()
		exitErr("export", err)
	}

	printJSON(memories)
}
