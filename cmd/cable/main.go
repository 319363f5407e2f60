// Cable is a tool for making cablehs connections.
//
//	$ cable --help
//
// Subcommands are init, privkey, pubkey, genpsk, genkeys, listen, dial,
// remotestatic and httpget.
//
// In the example below, we create ".cable" directories with "cable init". Then
// start a server with "cable listen" and make a connection with "cable dial".
//
// # Init
//
// Make two directories, one for the client and one for the server. Both parties
// need the same preshared key: run "cable init" for the server, and pass its
// preshared key to "cable init" for the client:
//
//	server$ cable init
//	level=info msg="created .cable/private_key"
//	level=info msg="created .cable/psk"
//	level=info msg="created .cable/known_peers"
//	cable0 * dveY0PXJfUQn84FOdV3MCCCRz6Na7SccQH_Shcj-Qg4
//
//	client$ cable init --psk $(cat ../server/.cable/psk)
//	...
//	cable0 * byX6M3L2qCU4yAFotRhI1dKOffrU7drs4W7-iIY-1Qc
//
// The last line printed is a line for ".cable/known_peers". Anyone with the
// preshared key can connect. To also require a known static key, add the
// client's line to the server's known peers, and use flag --known:
//
//	server$ echo 'cable0 * byX6M3L2qCU4yAFotRhI1dKOffrU7drs4W7-iIY-1Qc' >>.cable/known_peers
//
// # Listen
//
// Start a server that echoes back everything it reads:
//
//	server$ cable listen --known localhost:1047 cat
//	level=info msg=listening address="localhost:1047" local_static=dveY0PXJfUQn84FOdV3MCCCRz6Na7SccQH_Shcj-Qg4
//
// With flag --ws, the server accepts websocket connections instead. With flag
// --metrics, prometheus metrics about handshakes and messages are served on the
// given address.
//
// # Dial
//
// Connect to the server:
//
//	client$ cable dial localhost:1047
//	level=info msg=connected address="localhost:1047" local_static=byX6M3L2qCU4yAFotRhI1dKOffrU7drs4W7-iIY-1Qc remote_static=dveY0PXJfUQn84FOdV3MCCCRz6Na7SccQH_Shcj-Qg4
//
// Now type anything and you'll see it echoed back to you by the server.
//
// # Remotestatic
//
// Remotestatic performs a handshake and prints the static public key of remote
// in a form suitable for adding to ".cable/known_peers":
//
//	client$ cable remotestatic localhost:1047 | sed 's/localhost:1047/*/' >>.cable/known_peers
//
// After which "cable dial --known" verifies the server.
//
// # Genkeys
//
// Command genkeys prints two key pairs, a preshared key, and addresses that
// include them. These can be used to quickly set up a connection without a
// ".cable" directory:
//
//	$ cable genkeys
//	[...]
//	local address: localhost:1047+sF8XgswdnBscEhCL24m3dgiQw7HEH0ezt_tq3jbKOr4+YNrfnE9BMY0jZEq-KI8p-CkGlI0nQ-Q9I8Uf7-kRjw4
//	[...]
//	remote address: localhost:1047+Pv1yEwpRnbwNc9O-CCPseDN96Fb7DSKllpBs0DyhDxU+YNrfnE9BMY0jZEq-KI8p-CkGlI0nQ-Q9I8Uf7-kRjw4
//
//	$ cable listen localhost:1047+sF8XgswdnBscEhCL24m3dgiQw7HEH0ezt_tq3jbKOr4+YNrfnE9BMY0jZEq-KI8p-CkGlI0nQ-Q9I8Uf7-kRjw4 cat
//	$ cable dial localhost:1047+Pv1yEwpRnbwNc9O-CCPseDN96Fb7DSKllpBs0DyhDxU+YNrfnE9BMY0jZEq-KI8p-CkGlI0nQ-Q9I8Uf7-kRjw4
//
// # Httpget
//
// Httpget fetches a URL from an HTTP server behind a cablehs listener:
//
//	client$ cable httpget httpc://localhost:1047/
//
// Flag --debug logs each step of the handshake.
package main

import (
	"os"

	"github.com/mjl-/cablehs/cmd/cable/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
