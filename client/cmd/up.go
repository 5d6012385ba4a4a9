package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yegram/yegram/client/internal"
)

var connectTo []string

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "connect to the relay and chat from the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, st, err := openStore()
		if err != nil {
			return err
		}
		defer closeStore(st)

		ctx := internal.CtxInitState(cmd.Context())
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		con := newConsole(st, cmd.OutOrStdout())
		return internal.RunClient(ctx, config, st, con, func(engine *internal.Engine) {
			con.attach(engine)
			for _, peer := range connectTo {
				if err := engine.Connect(peer); err != nil {
					con.printf("connect %s: %v", peer, err)
				}
			}
			go func() {
				defer cancel()
				if err := con.run(cmd.InOrStdin()); err != nil {
					log.Errorf("reading commands: %v", err)
				}
			}()
		})
	},
}

func init() {
	upCmd.Flags().StringSliceVar(&connectTo, "connect", nil, "peers to connect to on start, by id or @username")
}
