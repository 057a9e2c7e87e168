package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve and decrypt an unlocked memory",
		Long:  "Retrieve an unlocked memory. The payload is written to stdout, or to the file given with -o.",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().StringP("output", "o", "", "Write the payload to this file")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	output, _ := cmd.Flags().GetString("output")

	a := newApp()
	defer a.close()

	payload, err := a.svc.RetrieveMemory(cmd.Context(), args[0], a.owner())
	if err != nil {
		a.close()
		exitErr("get", err)
	}

	if output != "" {
		if err := os.WriteFile(output, payload, 0o600); err != nil {
			a.close()
			exitErr("write output", err)
		}
		printJSON(map[string]any{"ok": true, "id": args[0], "bytes": len(payload), "path": output})
		return
	}
	os.Stdout.Write(payload)
}
