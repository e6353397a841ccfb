package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mosaic-bft/mosaic/mconsensus"
	"github.com/mosaic-bft/mosaic/mengine"
	"github.com/mosaic-bft/mosaic/mhttp"
	"github.com/mosaic-bft/mosaic/mnet"
	"github.com/mosaic-bft/mosaic/mstore"
)

func newRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the validator instances described by the node config",

		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "node.json", "path to the node config file")

	return cmd
}

func runNode(cmd *cobra.Command, configPath string) error {
	ctx := cmd.Context()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := loadNodeConfig(configPath)
	if err != nil {
		return err
	}

	committee, err := cfg.committee()
	if err != nil {
		return fmt.Errorf("invalid committee: %w", err)
	}

	handlers := mnet.NewHandlerMap()

	recv, err := mnet.NewReceiver(ctx, log.With("sys", "receiver"), mnet.ReceiverConfig{
		Address:  cfg.ListenAddr,
		Handlers: handlers,
		Name:     "consensus",
	})
	if err != nil {
		return fmt.Errorf("failed to start receiver: %w", err)
	}
	log.Info("Listening for consensus connections", "addr", recv.Addr())

	sender := mnet.NewSender(log.With("sys", "sender"), mnet.DefaultSenderConfig())
	defer sender.Close()

	engines := make(map[uint64]*mengine.Engine, len(cfg.Validators))
	for _, v := range cfg.Validators {
		signer, err := loadSigner(v.KeyFile)
		if err != nil {
			return fmt.Errorf("validator %d: %w", v.ID, err)
		}

		store, err := openStore(cfg.StoreDir, v.ID)
		if err != nil {
			return fmt.Errorf("validator %d: %w", v.ID, err)
		}

		commit := make(chan mconsensus.Block, 64)

		e, err := mengine.New(ctx, log.With("sys", "engine"), mengine.Config{
			ValidatorID: v.ID,
			Signer:      signer,
			Committee:   committee,
			Params:      mengine.DefaultParameters(),
			Store:       store,
			Handlers:    handlers,
			Sender:      sender,

			// No external mempool in the standalone node;
			// blocks carry empty payloads.
			MempoolDigests: nil,
			Commit:         commit,
		})
		if err != nil {
			return fmt.Errorf("validator %d: %w", v.ID, err)
		}
		engines[v.ID] = e

		go drainCommits(ctx, log, v.ID, commit)
	}

	var httpServer *mhttp.HTTPServer
	if cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return fmt.Errorf("failed to listen for HTTP: %w", err)
		}
		httpServer = mhttp.NewHTTPServer(ctx, log.With("sys", "http"), mhttp.HTTPServerConfig{
			Listener: ln,
			Handlers: handlers,
			Engines:  engines,
		})
		log.Info("Serving status over HTTP", "addr", ln.Addr())
	}

	<-ctx.Done()
	log.Info("Shutting down")

	for _, e := range engines {
		e.Wait()
	}
	recv.Wait()
	if httpServer != nil {
		httpServer.Wait()
	}

	return nil
}

func openStore(dir string, validatorID uint64) (mstore.Store, error) {
	if dir == "" {
		return mstore.NewMemStore(), nil
	}

	path := filepath.Join(dir, fmt.Sprintf("validator-%d", validatorID))
	return mstore.NewLevelStore(path)
}

func drainCommits(ctx context.Context, log *slog.Logger, id uint64, commits <-chan mconsensus.Block) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-commits:
			log.Info("Block finalized",
				"validator_id", id, "round", b.Round, "block", b.Digest(),
			)
		}
	}
}
