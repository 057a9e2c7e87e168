package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/chronolock/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	s, err := openStore(cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sq, ok := s.(*store.SQLiteStore)
	if !ok {
		s.Close()
		exitErr("stats", fmt.Errorf("stats are only available for the %s backend", "sqlite"))
	}

	stats, err := sq.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	printJSON(stats)
}
