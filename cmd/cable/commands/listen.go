package commands

import (
	"net/http"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/mjl-/cablehs"
	"github.com/mjl-/cablehs/observability/prom"
	"github.com/mjl-/cablehs/wsstream"
)

func listenCmd() *cobra.Command {
	var ws, known bool
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "listen [flags] address [command ...]",
		Short: "Accept connections, relaying stdio or running a command for each",
		Long: `Listen accepts cablehs connections on address, which can include keys, see
"cable dial". Without command, data is relayed between stdin/stdout and one
connection at a time. With command, the command is started for each
connection, with its stdin and stdout connected to remote.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := newConfig(known)
			if metricsAddr != "" {
				reg := prom.NewRegistry()
				config.Observer = prom.NewObserver(reg)
				go func() {
					err := http.ListenAndServe(metricsAddr, prom.Handler(reg))
					log.WithError(err).Error("serving metrics")
				}()
				log.WithField("address", metricsAddr).Info("serving metrics")
			}

			argv := args[1:]
			var input <-chan []byte
			var serial sync.Mutex
			if len(argv) == 0 {
				input = inputFeed(os.Stdin)
			}
			handle := func(conn *cablehs.Conn) {
				remoteStatic, err := conn.RemoteStatic()
				if err != nil {
					log.WithError(err).WithField("remote", conn.RemoteAddr()).Info("handshake")
					conn.Close()
					return
				}
				clog := log.WithFields(logrus.Fields{"remote": conn.RemoteAddr(), "remote_static": remoteStatic})
				clog.Info("new connection")

				if len(argv) == 0 {
					serial.Lock()
					defer serial.Unlock()
					serveStdio(conn, input)
					return
				}
				defer conn.Close()
				if err := runCommand(conn, argv, os.Stderr); err != nil {
					clog.WithError(err).Info("connection finished")
				} else {
					clog.Info("connection finished")
				}
			}

			if ws {
				return listenWebSocket(args[0], config, handle)
			}

			l, err := cablehs.Listen("tcp", args[0], config)
			if err != nil {
				return xerrors.Errorf("listen: %w", err)
			}
			log.WithFields(logrus.Fields{"address": config.Address, "local_static": config.LocalStaticPublic()}).Info("listening")
			for {
				conn, err := l.AcceptConn()
				if err != nil {
					return xerrors.Errorf("accept: %w", err)
				}
				if len(argv) == 0 {
					handle(conn)
				} else {
					go handle(conn)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&ws, "ws", false, "accept websocket connections on any http path, and run cablehs over them")
	cmd.Flags().BoolVar(&known, "known", false, "only accept remotes listed in .cable/known_peers")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "serve prometheus metrics on this address")
	return cmd
}

func listenWebSocket(address string, config *cablehs.Config, handle func(*cablehs.Conn)) error {
	if err := cablehs.ParseAddress(address, config); err != nil {
		return xerrors.Errorf("parsing address: %w", err)
	}
	log.WithFields(logrus.Fields{"address": config.Address, "local_static": config.LocalStaticPublic()}).Info("listening for websocket connections")
	h := wsstream.Handler(wsstream.UpgraderOptions{}, func(c *wsstream.Conn) {
		// Each cablehs stream write is a message of at most one segment.
		c.SetReadLimit(cablehs.MaxCiphertextSegment)
		conn, err := cablehs.Server(c, config)
		if err != nil {
			log.WithError(err).WithField("remote", c.RemoteAddr()).Info("handshake")
			return
		}
		handle(conn)
	})
	return http.ListenAndServe(config.Address, h)
}
