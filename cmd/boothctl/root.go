package main

import (
	"context"
	"os"
	"time"

	"github.com/cwrk-planet/booth-service/internal/client"
	grpcx "github.com/cwrk-planet/booth-service/internal/transport/grpc"
	"github.com/cwrk-planet/booth-service/pkg/logger"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type globalFlags struct {
	server    string
	grpcAddr  string
	queuePath string
	timeout   time.Duration
	debug     bool
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:   "boothctl",
	Short: "Booth client: clock sync, rooms, synchronized capture, offline queue",
	Long:  `Commands: sync, create, join, drain.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Init(logger.Config{
			Service: "boothctl",
			Env:     logger.EnvDev,
			Backend: logger.BackendStd,
			Debug:   flags.debug,
			Output:  os.Stderr,
		})
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.server, "server", "http://localhost:8080", "booth service base URL")
	pf.StringVar(&flags.grpcAddr, "grpc", "", "sample the clock over gRPC at this address instead of HTTP")
	pf.StringVar(&flags.queuePath, "queue", "boothctl-queue.db", "offline upload queue file")
	pf.DurationVar(&flags.timeout, "timeout", 10*time.Second, "per request timeout")
	pf.BoolVar(&flags.debug, "debug", false, "debug logging")

	rootCmd.AddCommand(syncCmd, createCmd, joinCmd, drainCmd)
}

// Execute runs the root command and returns the error for main to log.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func newAPI() *client.API {
	return client.NewAPI(flags.server, flags.timeout)
}

// timeSource picks the authority clock transport; the returned closer is never nil.
func timeSource() (client.TimeSource, func(), error) {
	if flags.grpcAddr == "" {
		return newAPI(), func() {}, nil
	}
	cc, err := grpc.NewClient(flags.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, err
	}
	return grpcx.NewClient(cc), func() { _ = cc.Close() }, nil
}

// estimate runs the offset estimator; an unavailable sync degrades to a zero offset.
func estimate(ctx context.Context) (client.Offset, error) {
	src, closeSrc, err := timeSource()
	if err != nil {
		return 0, err
	}
	defer closeSrc()

	return client.NewEstimator(src).EstimateOffset(ctx)
}
