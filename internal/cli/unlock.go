package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "unlock-status <id>",
		Short: "Check whether a memory has unlocked",
		Long:  "Check whether a memory has unlocked. Real memories are checked against the ledger; read failures report locked.",
		Args:  cobra.ExactArgs(1),
		Run:   runUnlockStatus,
	}

	RootCmd.AddCommand(cmd)
}

func runUnlockStatus(cmd *cobra.Command, args []string) {
	a := newApp()
	defer a.close()

	unlocked := a.svc.CheckUnlockStatus(cmd.Context(), args[0], a.owner())
	printJSON(map[string]any{"id": args[0], "unlocked": unlocked})
}
