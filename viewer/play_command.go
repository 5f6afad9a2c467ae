package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"wuyrush.io/wave/common/clock"
	"wuyrush.io/wave/lifecycle"
)

func newPlayCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "play [author]",
		Short: "Play unseen waves of you and your allies, or all waves of one author",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var author string
			if len(args) == 1 {
				author = args[0]
			}
			return ctx.withService(func(cfg *config, svc lifecycle.Service) error {
				sctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, os.Interrupt)
				defer stop()
				p, err := newPlayer(sctx, cfg, svc, clock.Real{}, cmd.OutOrStdout())
				if err != nil {
					return err
				}
				defer p.Close()
				go p.ReadKeys(sctx, cmd.InOrStdin())
				return p.Play(sctx, author)
			})
		},
	}
}
