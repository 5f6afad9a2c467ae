package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"wuyrush.io/wave/lifecycle"
	md "wuyrush.io/wave/models"
	"wuyrush.io/wave/tracker"
)

const timeLayout = "2006-01-02 15:04:05"

func newPostCommand(ctx *commandContext) *cobra.Command {
	var kind, mediaURL, textContent, background, caption string
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Post a wave visible to your allies for 24 hours",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d := &md.Draft{
				Kind:            md.Kind(kind),
				MediaURL:        mediaURL,
				TextContent:     textContent,
				BackgroundColor: background,
			}
			if cmd.Flags().Changed("caption") {
				d.Caption = &caption
			}
			if err := d.Validate(); err != nil {
				return err
			}
			return ctx.withService(func(_ *config, svc lifecycle.Service) error {
				w, err := svc.Create(cmd.Context(), d)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Posted wave %s, expiring at %s\n", w.ID, w.ExpiresAt.Local().Format(timeLayout))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(md.KindText), "Wave kind: photo, video or text")
	cmd.Flags().StringVar(&mediaURL, "media-url", "", "URL of the photo or video")
	cmd.Flags().StringVarP(&textContent, "text", "t", "", "Content of a text wave")
	cmd.Flags().StringVar(&background, "background", "", "Background color of a text wave, e.g. #1d3557")
	cmd.Flags().StringVar(&caption, "caption", "", "Caption of a photo or video wave")
	return cmd
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <wave-id>",
		Short: "Delete one of your waves before it expires",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(_ *config, svc lifecycle.Service) error {
				if err := svc.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted wave %s\n", args[0])
				return nil
			})
		},
	}
}

func newMineCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mine",
		Short: "List your active waves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(_ *config, svc lifecycle.Service) error {
				ws, err := svc.ListMine(cmd.Context())
				if err != nil {
					return err
				}
				if len(ws) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No active waves")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderWaves(ws, time.Now()))
				return nil
			})
		},
	}
}

func renderWaves(ws []md.Wave, now time.Time) string {
	rows := make([][]string, 0, len(ws))
	for _, w := range ws {
		rows = append(rows, []string{
			w.ID,
			string(w.Kind),
			w.CreatedAt.Local().Format(timeLayout),
			w.ExpiresAt.Sub(now).Round(time.Minute).String(),
			strconv.FormatUint(w.ViewCount, 10),
			strconv.Itoa(len(w.Reactors)),
		})
	}
	return renderTable(
		[]string{"ID", "KIND", "POSTED", "EXPIRES IN", "VIEWS", "LIKES"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}

func newViewersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "viewers <wave-id>",
		Short: "List who has seen one of your waves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(func(_ *config, svc lifecycle.Service) error {
				vs, err := tracker.New(svc, nil).ListViewers(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if len(vs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No viewers yet")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderViewers(vs))
				return nil
			})
		},
	}
}

func renderViewers(vs []md.Viewer) string {
	rows := make([][]string, 0, len(vs))
	for _, v := range vs {
		rows = append(rows, []string{v.UserID, v.ViewedAt.Local().Format(timeLayout)})
	}
	return renderTable([]string{"VIEWER", "SEEN AT"}, rows, nil)
}
