package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the owner's ledger balance",
		Run:   runBalance,
	}

	RootCmd.AddCommand(cmd)
}

func runBalance(cmd *cobra.Command, args []string) {
	a := newApp()
	defer a.close()

	owner := a.owner()
	bal, err := a.svc.CheckBalance(cmd.Context(), owner)
	if err != nil {
		a.close()
		exitErr("balance", err)
	}

	if formatFlag == "text" {
		fmt.Printf("%s: %s", owner, bal)
		if bal.NeedsFunding {
			fmt.Print(" (needs funding)")
		}
		fmt.Println()
		return
	}
	printJSON(map[string]any{"owner": owner, "balance": bal})
}
