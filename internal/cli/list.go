package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/chronolock/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		Run:   runList,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (0 = all)")
	cmd.Flags().Bool("unlocked", false, "Only unlocked memories")
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	unlockedOnly, _ := cmd.Flags().GetBool("unlocked")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	a := newApp()
	defer a.close()

	memories, err := a.svc.GetUserMemories(cmd.Context(), a.owner())
	if err != nil {
		a.close()
		exitErr("list", err)
	}

	out := make([]model.Memory, 0, len(memories))
	for _, m := range memories {
		if unlockedOnly && m.Locked {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}

	switch {
	case idsOnly:
		for _, m := range out {
			fmt.Println(m.ID)
		}
	case formatFlag == "text":
		for _, m := range out {
			state := "unlocked"
			if m.Locked {
				state = "locked until " + m.UnlockAt.Local().Format(time.DateTime)
			}
			fmt.Printf("%-34s %-9s %-24q %s\n", m.ID, m.Mode, m.Title, state)
		}
	default:
		printJSON(out)
	}
}
