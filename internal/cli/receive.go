package cli

import (
	"github.com/danmuck/renodectl/internal/receiver"
	"github.com/danmuck/renodectl/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func receiveCmd(root *rootOptions) *cobra.Command {
	var addr, admin, db string
	c := &cobra.Command{
		Use:   "receive",
		Short: "Accept sensor packets over TCP and store them in SQLite",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Receiver.Addr = addr
			}
			if admin != "" {
				cfg.Receiver.AdminAddr = admin
			}
			if db != "" {
				cfg.Receiver.DBPath = db
			}

			st, err := store.Open(cfg.Receiver.DBPath)
			if err != nil {
				return err
			}
			defer func() {
				if err := st.Close(); err != nil {
					log.Warn().Err(err).Msg("cli.receive store close failed")
				}
			}()

			srv := receiver.New(receiver.Config{
				Addr:        cfg.Receiver.Addr,
				AdminAddr:   cfg.Receiver.AdminAddr,
				AdminToken:  cfg.Receiver.AdminToken,
				ReadTimeout: cfg.Receiver.ReadTimeout,
				CorsOrigins: cfg.Receiver.CorsOrigins,
			}, st)
			log.Info().Str("addr", cfg.Receiver.Addr).Str("db", st.Path()).Msg("cli.receive starting")
			return srv.Serve(cmd.Context())
		},
	}
	c.Flags().StringVar(&addr, "addr", "", "TCP listen address (overrides config)")
	c.Flags().StringVar(&admin, "admin", "", "admin HTTP listen address (overrides config)")
	c.Flags().StringVar(&db, "db", "", "SQLite database path (overrides config)")
	return c
}
