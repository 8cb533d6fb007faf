// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	golibp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	codarpc "github.com/blinklabs-io/gocodarpc"
	"github.com/blinklabs-io/gocodarpc/capture"
	"github.com/blinklabs-io/gocodarpc/metrics"
	"github.com/blinklabs-io/gocodarpc/muxer"
	"github.com/blinklabs-io/gocodarpc/protocol"
	"github.com/blinklabs-io/gocodarpc/transport/libp2p"
)

type globalFlags struct {
	peers       []string
	topology    string
	listen      []string
	timeout     time.Duration
	debug       bool
	captureFile string
	metricsAddr string
}

var flags globalFlags

var rootCmd = &cobra.Command{
	Use:           "coda-rpc",
	Short:         "Talk to blockchain nodes over the coda/rpcs protocol",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVar(&flags.peers, "peer", nil, "peer multiaddr including /p2p/<id> (repeatable)")
	rootCmd.PersistentFlags().StringVar(&flags.topology, "topology", "", "JSON topology file listing bootstrap and trusted peers")
	rootCmd.PersistentFlags().StringArrayVar(&flags.listen, "listen", nil, "multiaddr to listen on (repeatable)")
	rootCmd.PersistentFlags().DurationVar(&flags.timeout, "timeout", 30*time.Second, "timeout for connecting and each request")
	rootCmd.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flags.captureFile, "capture", "", "write every frame to this file")
	rootCmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-listen", "", "serve Prometheus metrics on this address")
	rootCmd.AddCommand(menuCmd, callCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

// node bundles a libp2p host with the RPC engine running on top of it
type node struct {
	logger      *slog.Logger
	host        host.Host
	manager     *codarpc.ConnectionManager
	engine      *codarpc.Engine
	transport   *libp2p.Transport
	captureFile *os.File
	capture     *capture.Writer
	httpServer  *http.Server
	cancel      context.CancelFunc
	runDone     chan struct{}
}

func newNode(muxerOptions []muxer.MuxerOptionFunc, engineOptions ...codarpc.EngineOptionFunc) (*node, error) {
	level := slog.LevelInfo
	if flags.debug {
		level = slog.LevelDebug
	}
	n := &node{
		logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
		runDone: make(chan struct{}),
	}
	hostOpts := []golibp2p.Option{golibp2p.NoListenAddrs}
	if len(flags.listen) > 0 {
		hostOpts = []golibp2p.Option{golibp2p.ListenAddrStrings(flags.listen...)}
	}
	h, err := golibp2p.New(hostOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}
	n.host = h
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	if flags.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		n.httpServer = &http.Server{
			Addr:              flags.metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := n.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.logger.Error("metrics server failed", "error", err)
			}
		}()
	}
	if flags.captureFile != "" {
		f, err := os.Create(flags.captureFile)
		if err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("failed to create capture file: %w", err)
		}
		n.captureFile = f
		if n.capture, err = capture.NewWriter(f); err != nil {
			_ = f.Close()
			_ = h.Close()
			return nil, err
		}
		muxerOptions = append(muxerOptions, muxer.WithFrameObserver(n.capture))
	}
	n.manager = codarpc.NewConnectionManager(
		codarpc.ConnectionManagerConfig{
			Logger:       n.logger,
			MuxerOptions: muxerOptions,
			Metrics:      m,
		},
	)
	n.engine = codarpc.NewEngine(n.manager, append(engineOptions, codarpc.WithMetrics(m))...)
	n.transport = libp2p.New(h, n.manager, libp2p.WithLogger(n.logger))
	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go func() {
		defer close(n.runDone)
		_ = n.engine.Run(ctx)
	}()
	for _, addr := range h.Addrs() {
		n.logger.Info("listening", "address", addr.String()+"/p2p/"+h.ID().String())
	}
	return n, nil
}

// connect dials the peers given on the command line and in the topology file, and
// returns the ids of the ones that answered
func (n *node) connect(ctx context.Context) ([]string, error) {
	peers := []codarpc.TopologyPeer{}
	for _, addr := range flags.peers {
		peers = append(peers, codarpc.TopologyPeer{Address: addr})
	}
	if flags.topology != "" {
		topology, err := codarpc.NewTopologyConfigFromFile(flags.topology)
		if err != nil {
			return nil, fmt.Errorf("failed to load topology: %w", err)
		}
		peers = append(peers, topology.Peers()...)
	}
	if len(peers) == 0 {
		return nil, errors.New("no peers given, use --peer or --topology")
	}
	var ret []string
	for _, peer := range peers {
		dialCtx, cancel := context.WithTimeout(ctx, flags.timeout)
		peerId, err := n.transport.Connect(dialCtx, peer.Address, peer.Tags...)
		cancel()
		if err != nil {
			n.logger.Warn("failed to connect to peer", "address", peer.Address, "error", err)
			continue
		}
		ret = append(ret, peerId.String())
	}
	if len(ret) == 0 {
		return nil, errors.New("could not connect to any peer")
	}
	return ret, nil
}

func (n *node) Close() {
	n.cancel()
	<-n.runDone
	_ = n.transport.Close()
	_ = n.manager.Close()
	_ = n.host.Close()
	if n.httpServer != nil {
		_ = n.httpServer.Close()
	}
	if n.captureFile != nil {
		if err := n.capture.Err(); err != nil {
			n.logger.Error("capture stopped early", "error", err)
		}
		_ = n.captureFile.Close()
		n.logger.Info("capture written", "file", flags.captureFile, "frames", n.capture.Count())
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printMenu(peer string, menu protocol.Menu) {
	fmt.Printf("%s:\n", peer)
	for _, method := range menu {
		fmt.Printf("  %s\n", method)
	}
}
