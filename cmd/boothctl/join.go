package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/booth-service/internal/client"

	"github.com/spf13/cobra"
)

var joinFlags struct {
	captureFile string
	request     bool
	layout      string
	filter      string
}

var joinCmd = &cobra.Command{
	Use:   "join ROOM",
	Short: "Join a room and take part in synchronized captures",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

func init() {
	f := joinCmd.Flags()
	f.StringVar(&joinFlags.captureFile, "capture-file", "", "image file used as the capture when FIRE_AT arrives")
	f.BoolVar(&joinFlags.request, "request", false, "send a capture request once the partner is present")
	f.StringVar(&joinFlags.layout, "layout", "", "horizontal|vertical")
	f.StringVar(&joinFlags.filter, "filter", "", "polaroid|noir|warm|none")
}

func runJoin(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	off, err := estimate(ctx)
	if err != nil && !errors.Is(err, client.ErrSyncUnavailable) {
		return err
	}
	if err != nil {
		slog.Warn("clock sync unavailable, using zero offset", "err", err)
	}
	fmt.Fprintf(out, "offset: %d ms\n", int64(off))

	q, err := client.OpenQueue(flags.queuePath)
	if err != nil {
		return err
	}
	defer q.Close()

	var booth *client.Booth
	booth = client.NewBooth(client.BoothConfig{
		ServerURL: flags.server,
		Room:      args[0],
		Offset:    off,
		API:       newAPI(),
		Queue:     q,
		Capture:   fileCapture(joinFlags.captureFile),
		Hooks: client.Hooks{
			OnJoined: func(slot, peers int) {
				fmt.Fprintf(out, "joined slot %d (%d/2)\n", slot, peers)
				if peers == 2 && joinFlags.request {
					requestCapture(booth)
				}
			},
			OnPartner: func(present bool) {
				if !present {
					fmt.Fprintln(out, "partner left")
					return
				}
				fmt.Fprintln(out, "partner joined")
				if joinFlags.request {
					requestCapture(booth)
				}
			},
			OnFire: func(sessionID string, localAt time.Time) {
				fmt.Fprintf(out, "capture %s fires in %s\n", sessionID, time.Until(localAt).Round(time.Millisecond))
			},
			OnResult: func(sessionID string, job client.JobView, err error) {
				switch {
				case errors.Is(err, client.ErrPollTimeout):
					fmt.Fprintf(out, "composite %s not ready, keeping the local capture\n", sessionID)
				case err != nil:
					fmt.Fprintf(out, "composite %s failed: %v\n", sessionID, err)
				default:
					fmt.Fprintf(out, "composite %s ready: %s\n", sessionID, job.ResultRef)
				}
			},
		},
	})

	err = booth.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func requestCapture(b *client.Booth) {
	if err := b.RequestCapture(joinFlags.layout, joinFlags.filter); err != nil {
		slog.Warn("capture request failed", "err", err)
	}
}

func fileCapture(path string) client.Capturer {
	if path == "" {
		return nil
	}
	return func(context.Context) ([]byte, error) {
		return os.ReadFile(path)
	}
}
