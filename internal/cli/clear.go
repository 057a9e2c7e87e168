package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete local memories",
		Long: "Delete the owner's local records and all simulated records. Encryption keys are " +
			"deleted with them, so real memories become permanently unreadable. Export first.",
		Run: runClear,
	}

	cmd.Flags().Bool("yes", false, "Confirm the irreversible delete")

	RootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		exitErr("clear", errors.New("refusing to delete keys without --yes"))
	}

	a := newApp()
	defer a.close()

	owner := a.owner()
	if err := a.svc.ClearLocalMemories(cmd.Context(), owner); err != nil {
		a.close()
		exitErr("clear", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"owner":%q}`+"\n", owner)
}
