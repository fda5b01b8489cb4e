package cli

import (
	"fmt"
	"os"

	"github.com/danmuck/renodectl/internal/store"
	"github.com/danmuck/renodectl/internal/viewer"
	"github.com/spf13/cobra"
)

func viewCmd(root *rootOptions) *cobra.Command {
	var db string
	var limit int
	c := &cobra.Command{
		Use:   "view",
		Short: "Print stored readings followed by statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(root, db, func(v *viewer.Viewer) error {
				if err := v.ShowAll(cmd.Context(), cmd.OutOrStdout(), limit); err != nil {
					return err
				}
				return v.ShowStats(cmd.Context(), cmd.OutOrStdout())
			})
		},
	}
	c.Flags().StringVar(&db, "db", "", "SQLite database path (overrides config)")
	c.Flags().IntVar(&limit, "limit", 0, "show only the newest N readings")
	return c
}

func statsCmd(root *rootOptions) *cobra.Command {
	var db string
	c := &cobra.Command{
		Use:   "stats",
		Short: "Print reading statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(root, db, func(v *viewer.Viewer) error {
				return v.ShowStats(cmd.Context(), cmd.OutOrStdout())
			})
		},
	}
	c.Flags().StringVar(&db, "db", "", "SQLite database path (overrides config)")
	return c
}

func withStore(root *rootOptions, db string, fn func(*viewer.Viewer) error) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if db == "" {
		db = cfg.Receiver.DBPath
	}
	if _, err := os.Stat(db); err != nil {
		return fmt.Errorf("open database %s: %w", db, err)
	}
	st, err := store.Open(db)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(viewer.New(st))
}
