package commands

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/mjl-/cablehs/cablehttp"
)

func httpgetCmd() *cobra.Command {
	var known bool
	cmd := &cobra.Command{
		Use:   "httpget url",
		Short: "Fetch a URL over a cablehs connection and write the body to stdout",
		Long: `Httpget makes an HTTP GET request over cablehs. The URL scheme is "http" or
"httpc". Keys can be given as user name, for example:

	cable httpget httpc://localhost:1047/
	cable httpget httpc://new+fs@localhost:1047/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := newConfig(known)
			transport := &http.Transport{}
			cablehttp.Register("http", transport, config)
			cablehttp.Register("httpc", transport, config)

			client := &http.Client{Transport: transport}
			resp, err := client.Get(args[0])
			if err != nil {
				return fmt.Errorf("http get: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("http response status %v, expected 200", resp.StatusCode)
			}
			_, err = io.Copy(cmd.OutOrStdout(), resp.Body)
			return err
		},
	}
	cmd.Flags().BoolVar(&known, "known", false, "only accept a remote listed in .cable/known_peers for the address")
	return cmd
}
