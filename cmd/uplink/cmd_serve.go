package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/homelab/uplink/internal/api"
	"github.com/jbweber/homelab/uplink/internal/attachment"
	"github.com/jbweber/homelab/uplink/internal/config"
	"github.com/jbweber/homelab/uplink/internal/datastore"
	"github.com/jbweber/homelab/uplink/internal/deploy"
	"github.com/jbweber/homelab/uplink/internal/logging"
	"github.com/jbweber/homelab/uplink/internal/repository"
)

const shutdownTimeout = 10 * time.Second

var serveFlags struct {
	port             string
	deploymentPeriod config.Duration
	maxIfaces        int
	allowPrivateIPs  bool
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the deployment queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&serveFlags.port, "port", "p", "", "listen port (overrides port)")
	cmd.Flags().Var(&serveFlags.deploymentPeriod, "deployment-period", "minimum time between deployments of a host")
	cmd.Flags().IntVar(&serveFlags.maxIfaces, "max-ifaces-per-router", 0, "attachments per border router")
	cmd.Flags().BoolVar(&serveFlags.allowPrivateIPs, "allow-private-ips", false, "accept non-routable public IPs")
	return cmd
}

func applyServeFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		c.Port = serveFlags.port
	}
	if flags.Changed("deployment-period") {
		c.DeploymentPeriod = serveFlags.deploymentPeriod
	}
	if flags.Changed("max-ifaces-per-router") {
		c.MaxIfacesPerRouter = serveFlags.maxIfaces
	}
	if flags.Changed("allow-private-ips") {
		c.AllowPrivateIPs = serveFlags.allowPrivateIPs
	}
}

func serve(ctx context.Context, c *config.Config) error {
	ds, err := c.InitializeDatastore()
	if err != nil {
		return err
	}
	defer ds.Close()

	asids, err := c.ASIDAllocator()
	if err != nil {
		return err
	}
	stmts := repository.NewPreparedStatementCache(ds.DB)
	defer stmts.Close()

	queue := deploy.NewQueue(deploy.Recorder(ds), c.DeploymentPeriod.Duration)
	svc := attachment.NewService(ds, queue, asids, c.AttachmentConfig(), attachment.WithStatementCache(stmts))
	if err := schedulePending(ctx, ds, queue); err != nil {
		return err
	}

	r := chi.NewRouter()
	api.NewAPI(svc, api.WithCORS(c.CORSOrigins...)).RegisterRoutes(r)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "uplink is running"); err != nil {
			logging.Warnf("failed to write response: %v", err)
		}
	})
	srv := &http.Server{
		Addr:              ":" + c.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.Run(ctx)
	})
	g.Go(func() error {
		logging.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// schedulePending queues the hosts whose configuration changed before the last shutdown.
func schedulePending(ctx context.Context, ds *datastore.Datastore, d attachment.Deployer) error {
	hosts, err := repository.NewStore(ds.DB).Hosts.FindNeedingDeployment(ctx)
	if err != nil {
		return fmt.Errorf("failed to list hosts needing deployment: %w", err)
	}
	for _, h := range hosts {
		d.Schedule(h.ID)
	}
	if len(hosts) > 0 {
		logging.Infof("scheduled %d pending deployments", len(hosts))
	}
	return nil
}
