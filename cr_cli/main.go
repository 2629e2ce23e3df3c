package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	changerequestservice "github.com/niczy/changerequest/internal/services/changerequest"
)

// dialFunc opens a connection to the change request service.
type dialFunc func(addr string) (grpc.ClientConnInterface, io.Closer, error)

func dialInsecure(addr string) (grpc.ClientConnInterface, io.Closer, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to change request service: %w", err)
	}
	return conn, conn, nil
}

// CLI carries the connection and cache shared by every command.
type CLI struct {
	client   *changerequestservice.Client
	closer   io.Closer
	versions *VersionCache
	out      io.Writer
	timeout  time.Duration
}

func (c *CLI) Close() {
	if c.closer != nil {
		c.closer.Close()
	}
}

func (c *CLI) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

type rootOptions struct {
	server  string
	user    string
	timeout time.Duration
	noCache bool
}

func newRootCmd(dial dialFunc, cache func() (*VersionCache, error)) (*cobra.Command, *CLI) {
	opts := &rootOptions{}
	cli := &CLI{}

	root := &cobra.Command{
		Use:           "cr",
		Short:         "cr - change request client",
		Long:          `cr creates, reviews and merges change requests against versioned documents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.user == "" {
				return fmt.Errorf("--user is required (or set CR_USER)")
			}
			conn, closer, err := dial(opts.server)
			if err != nil {
				return err
			}
			cli.client = changerequestservice.NewClient(conn, opts.user)
			cli.closer = closer
			cli.out = cmd.OutOrStdout()
			cli.timeout = opts.timeout
			if !opts.noCache {
				versions, err := cache()
				if err != nil {
					return fmt.Errorf("failed to open version cache: %w", err)
				}
				cli.versions = versions
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			cli.Close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("CR_SERVER", "localhost:50053"), "change request service address")
	flags.StringVarP(&opts.user, "user", "u", os.Getenv("CR_USER"), "user performing the operation")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-request timeout")
	flags.BoolVar(&opts.noCache, "no-cache", false, "do not read or write the local version cache")

	root.AddCommand(
		newCreateCmd(cli),
		newShowCmd(cli),
		newAddFileCmd(cli),
		newStatusCmd(cli),
		newReviewCmd(cli),
		newValidityCmd(cli),
		newCanMergeCmd(cli),
		newMergeCmd(cli),
		newMergeResultCmd(cli),
		newFixCmd(cli),
		newDocCmd(cli),
	)
	return root, cli
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	root, _ := newRootCmd(dialInsecure, NewVersionCache)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
