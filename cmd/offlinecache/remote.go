/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/acronis/go-offlinecache/config"
	"github.com/acronis/go-offlinecache/httpclient"
	"github.com/acronis/go-offlinecache/httpserver"
	"github.com/acronis/go-offlinecache/log"
	"github.com/acronis/go-offlinecache/restapi"
	"github.com/acronis/go-offlinecache/swhost"
)

const (
	defaultServerAddr    = "http://127.0.0.1:8080"
	defaultRemoteTimeout = 10 * time.Second
)

// adminClient talks to the admin API of a running server.
type adminClient struct {
	baseURL string
	client  *http.Client
	logger  log.FieldLogger
}

func newAdminClient(addr string, timeout time.Duration, logger log.FieldLogger) (*adminClient, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	client, err := httpclient.New(&httpclient.Config{
		Timeout: config.TimeDuration(timeout),
		Log:     httpclient.LogConfig{Enabled: true, Mode: httpclient.LoggingModeFailed},
	}, httpclient.Opts{UserAgent: userAgent, RequestType: "admin", Logger: logger})
	if err != nil {
		return nil, err
	}
	return &adminClient{baseURL: strings.TrimSuffix(addr, "/") + httpserver.AdminAPIPrefix, client: client, logger: logger}, nil
}

func (c *adminClient) do(ctx context.Context, method, path string, data, result interface{}) error {
	req, err := restapi.NewJSONRequest(method, c.baseURL+path, data)
	if err != nil {
		return err
	}
	return restapi.DoRequestAndUnmarshalJSON(c.client, req.WithContext(ctx), result, c.logger)
}

func (c *adminClient) Registration(ctx context.Context) (swhost.Info, error) {
	var info swhost.Info
	err := c.do(ctx, http.MethodGet, "/registration", nil, &info)
	return info, err
}

func (c *adminClient) Caches(ctx context.Context) ([]httpserver.CacheInfo, error) {
	var caches []httpserver.CacheInfo
	err := c.do(ctx, http.MethodGet, "/caches", nil, &caches)
	return caches, err
}

func (c *adminClient) Update(ctx context.Context) (swhost.Info, error) {
	var info swhost.Info
	err := c.do(ctx, http.MethodPost, "/update", nil, &info)
	return info, err
}

type remoteFlags struct {
	addr    string
	timeout time.Duration
}

func (f *remoteFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", defaultServerAddr, "Address of the running offline cache server")
	cmd.Flags().DurationVar(&f.timeout, "timeout", defaultRemoteTimeout, "Request timeout")
}

func (f *remoteFlags) client() (*adminClient, log.CloseFunc, error) {
	logCfg := log.NewDefaultConfig()
	logCfg.Level = log.LevelWarn
	logCfg.Format = log.FormatText
	logCfg.Output = log.OutputStderr
	logger, closeLog := log.NewLogger(logCfg)
	client, err := newAdminClient(f.addr, f.timeout, logger)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return client, closeLog, nil
}

func statusCmd() *cobra.Command {
	var flags remoteFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the registration and caches of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, closeLog, err := flags.client()
			if err != nil {
				return err
			}
			defer closeLog()
			info, err := client.Registration(cmd.Context())
			if err != nil {
				return fmt.Errorf("get registration: %w", err)
			}
			caches, err := client.Caches(cmd.Context())
			if err != nil {
				return fmt.Errorf("get caches: %w", err)
			}
			printInfo(cmd.OutOrStdout(), info)
			fmt.Fprintln(cmd.OutOrStdout(), "caches:")
			for _, c := range caches {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s (%d entries)\n", c.Name, c.Entries)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func updateCmd() *cobra.Command {
	var flags remoteFlags
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Make a running server check for a new cache version now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, closeLog, err := flags.client()
			if err != nil {
				return err
			}
			defer closeLog()
			info, err := client.Update(cmd.Context())
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			printInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func printInfo(w io.Writer, info swhost.Info) {
	printWorker := func(title string, wi *swhost.WorkerInfo) {
		if wi == nil {
			fmt.Fprintf(w, "%s: none\n", title)
			return
		}
		installed := "not installed"
		if !wi.InstalledAt.IsZero() {
			installed = "installed " + humanize.Time(wi.InstalledAt)
		}
		fmt.Fprintf(w, "%s: %s (%s, %s)\n", title, wi.Version, wi.State, installed)
	}
	printWorker("active", info.Active)
	printWorker("waiting", info.Waiting)
	printWorker("installing", info.Installing)
	fmt.Fprintf(w, "clients: %d (%d controlled)\n", info.Clients, info.ControlledClients)
}
