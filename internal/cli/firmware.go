package cli

import (
	"github.com/danmuck/renodectl/internal/firmware"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func firmwareCmd(root *rootOptions) *cobra.Command {
	var target, device string
	var count int
	c := &cobra.Command{
		Use:   "firmware",
		Short: "Emulate the STM32 sensor firmware",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			fc := firmware.DefaultConfig()
			fc.DeviceID = cfg.Firmware.DeviceID
			fc.Target = cfg.Firmware.Target
			fc.Interval = cfg.Firmware.Interval
			fc.ReplyTimeout = cfg.Firmware.ReplyTimeout
			fc.MaxPackets = cfg.Firmware.MaxPackets
			if target != "" {
				fc.Target = target
			}
			if device != "" {
				fc.DeviceID = device
			}
			if cmd.Flags().Changed("count") {
				fc.MaxPackets = count
			}

			emu, err := firmware.New(fc, nil)
			if err != nil {
				return err
			}
			err = emu.Run(cmd.Context())
			counters := emu.Counters()
			log.Info().Uint64("sent", counters.Sent).Uint64("acked", counters.Acked).
				Uint64("rejected", counters.Rejected).Uint64("failures", counters.Failures).
				Msg("cli.firmware finished")
			return err
		},
	}
	c.Flags().StringVar(&target, "target", "", "receiver address (overrides config)")
	c.Flags().StringVar(&device, "device", "", "device id (overrides config)")
	c.Flags().IntVar(&count, "count", 0, "stop after this many packets (0 runs until interrupted)")
	return c
}
