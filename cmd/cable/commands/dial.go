package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/mjl-/cablehs"
	"github.com/mjl-/cablehs/wsstream"
)

// connect dials address, which is a cablehs address, or a websocket URL with
// the optional "local+psk" address suffix as user name, for example
// "ws://new+fs@localhost:1047/".
func connect(address string, config *cablehs.Config) (*cablehs.Conn, error) {
	if !strings.HasPrefix(address, "ws://") && !strings.HasPrefix(address, "wss://") {
		return cablehs.Dial("tcp", address, config)
	}

	u, err := url.Parse(address)
	if err != nil {
		return nil, xerrors.Errorf("parsing websocket url: %w", err)
	}
	hostAddress := u.Host
	if u.User != nil {
		hostAddress += "+" + u.User.Username()
		u.User = nil
	}
	if err := cablehs.ParseAddress(hostAddress, config); err != nil {
		return nil, xerrors.Errorf("parsing address: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	c, err := wsstream.Dial(ctx, u.String(), wsstream.DialOptions{})
	if err != nil {
		return nil, xerrors.Errorf("websocket dial: %w", err)
	}
	c.SetReadLimit(cablehs.MaxCiphertextSegment)
	conn, err := cablehs.Client(c, config)
	if err != nil {
		c.Close()
		return nil, err
	}
	return conn, nil
}

func dialCmd() *cobra.Command {
	var known bool
	cmd := &cobra.Command{
		Use:   "dial [flags] address [command ...]",
		Short: "Connect, relaying stdio or running a command",
		Long: `Dial connects to address and performs a handshake. Without command, data is
relayed between stdin/stdout and the connection. With command, the command is
started with its stdin and stdout connected to remote.

Address is a cablehs address of the form "host:port+local+psk", with "local"
a private key, "fs" or "new", and "psk" a preshared key or "fs". Plain
"host:port" is the same as "host:port+fs+fs". Websocket URLs are dialed over
websocket, with the "local+psk" suffix as user name:

	cable dial localhost:1047
	cable dial ws://new+fs@localhost:1047/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := newConfig(known)
			conn, err := connect(args[0], config)
			if err != nil {
				return xerrors.Errorf("dial: %w", err)
			}
			defer conn.Close()

			remoteStatic, err := conn.RemoteStatic()
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"address":       config.Address,
				"local_static":  config.LocalStaticPublic(),
				"remote_static": remoteStatic,
			}).Info("connected")

			if len(args) == 1 {
				return relayStdio(conn, cmd.InOrStdin(), cmd.OutOrStdout())
			}
			return runCommand(conn, args[1:], os.Stderr)
		},
	}
	cmd.Flags().BoolVar(&known, "known", false, "only accept a remote listed in .cable/known_peers for the address")
	return cmd
}

func remotestaticCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remotestatic address",
		Short: "Print the static public key of remote as known_peers line",
		Long: `Remotestatic performs a handshake, prints the static public key of remote in a
form suitable for adding to .cable/known_peers, and closes the connection. A
plain "host:port" address uses a new private key and the preshared key from
.cable/psk.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address := args[0]
			if !strings.Contains(address, "://") && !strings.Contains(address, "+") {
				address += "+new+fs"
			}

			config := newConfig(false)
			conn, err := connect(address, config)
			if err != nil {
				return xerrors.Errorf("dial: %w", err)
			}
			defer conn.Close()

			remoteStatic, err := conn.RemoteStatic()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", cablehs.KnownPeersVersion, config.Address, remoteStatic)
			return err
		},
	}
}
