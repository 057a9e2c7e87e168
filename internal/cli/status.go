package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe IPFS and ledger connectivity",
		Run:   runStatus,
	}

	RootCmd.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	a := newApp()
	defer a.close()

	printJSON(a.svc.ServiceStatus(cmd.Context()))
}
