package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calobozan/mcpbridge/internal/adminapi"
	"github.com/calobozan/mcpbridge/internal/bridge"
	"github.com/calobozan/mcpbridge/internal/control"
	"github.com/calobozan/mcpbridge/internal/hub"
	"github.com/calobozan/mcpbridge/internal/pubsub"
	"github.com/calobozan/mcpbridge/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the hub, control plane, and admin API in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	st, err := store.New(cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("open endpoint store: %w", err)
	}
	defer st.Close()

	h := hub.New(cfg.WSToken, st)

	var pub *pubsub.Client
	if cfg.RedisAddr != "" {
		pub = pubsub.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer pub.Close()
	}

	onStatus := func(target string, status bridge.Status, detail string) {
		endpointName := target
		if idx := strings.IndexByte(target, '/'); idx != -1 {
			endpointName = target[:idx]
		}
		ep, err := st.GetEndpointByName(endpointName)
		if err != nil {
			return
		}
		if err := st.UpdateStatus(ep.ID, string(status), detail); err != nil {
			log.Printf("serve: failed to persist status for %s: %v", target, err)
		}
	}

	ctrl := control.New(st, cfg.ProviderSpec, cfg.WSToken, cfg.HTTPProxyBin, onStatus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if pub != nil {
		go func() {
			if err := pub.Subscribe(ctx, ctrl.OnPubSubUpdate); err != nil && ctx.Err() == nil {
				log.Printf("serve: pub/sub subscription ended: %v", err)
			}
		}()
	}

	go ctrl.Run(ctx)

	adminSrv := adminapi.New(cfg.AuthToken, st, h, pub)

	errCh := make(chan error, 2)

	go func() {
		log.Printf("mcpbridge hub listening on :%d", cfg.HubPort)
		errCh <- http.ListenAndServe(fmt.Sprintf(":%d", cfg.HubPort), h)
	}()
	go func() {
		errCh <- adminSrv.ListenAndServe(cfg.AdminPort)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server exited: %w", err)
	case <-sigCh:
		log.Println("serve: shutting down")
		cancel()
		return nil
	}
}
