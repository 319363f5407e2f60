package commands

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mjl-/cablehs"
)

func encode(buf []byte) string {
	return base64.RawURLEncoding.EncodeToString(buf)
}

func newPSK() ([]byte, error) {
	psk := make([]byte, cablehs.PSKSize)
	if _, err := rand.Read(psk); err != nil {
		return nil, err
	}
	return psk, nil
}

// writeNew writes a new file with content, failing if it already exists.
func writeNew(name, content string) error {
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func initCmd() *cobra.Command {
	var pskStr string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create .cable directory with private key, preshared key and known peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var psk []byte
			var err error
			if pskStr != "" {
				psk, err = cablehs.ParsePSK(pskStr)
			} else {
				psk, err = newPSK()
			}
			if err != nil {
				return fmt.Errorf("preshared key: %w", err)
			}

			key, err := cablehs.GenerateKeyPair(nil)
			if err != nil {
				return fmt.Errorf("generating private key: %w", err)
			}

			if err := os.MkdirAll(".cable", 0700); err != nil {
				return err
			}
			files := []struct {
				name    string
				content string
			}{
				{".cable/private_key", encode(key.Private) + "\n"},
				{".cable/psk", encode(psk) + "\n"},
				{".cable/known_peers", ""},
			}
			for _, f := range files {
				if err := writeNew(f.name, f.content); err != nil {
					return fmt.Errorf("creating %s: %w", f.name, err)
				}
				log.Infof("created %s", f.name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s * %s\n", cablehs.KnownPeersVersion, cablehs.PublicKey(key.Public))
			return nil
		},
	}
	cmd.Flags().StringVar(&pskStr, "psk", "", "use this preshared key instead of generating one")
	return cmd
}

func privkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "privkey",
		Short: "Print a new private key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cablehs.GenerateKeyPair(nil)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), encode(key.Private))
			return err
		},
	}
}

func pubkeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey < .cable/private_key",
		Short: "Print the public key for the private key read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := io.ReadAll(base64.NewDecoder(base64.RawURLEncoding, cmd.InOrStdin()))
			if err != nil {
				return fmt.Errorf("reading private key: %w", err)
			}
			key, err := cablehs.ParsePrivateKey(buf)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), cablehs.PublicKey(key.Public))
			return err
		},
	}
}

func genpskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genpsk",
		Short: "Print a new preshared key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			psk, err := newPSK()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), encode(psk))
			return err
		},
	}
}

func genkeysCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "genkeys",
		Short: "Print two key pairs, a preshared key and cablehs addresses using them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			localKey, err := cablehs.GenerateKeyPair(nil)
			if err != nil {
				return fmt.Errorf("generating local keypair: %w", err)
			}
			remoteKey, err := cablehs.GenerateKeyPair(nil)
			if err != nil {
				return fmt.Errorf("generating remote keypair: %w", err)
			}
			psk, err := newPSK()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "psk:", encode(psk))
			fmt.Fprintln(out, "")
			fmt.Fprintln(out, "local public:", encode(localKey.Public))
			fmt.Fprintln(out, "local private:", encode(localKey.Private))
			fmt.Fprintf(out, "local address: %s+%s+%s\n", address, encode(localKey.Private), encode(psk))
			fmt.Fprintln(out, "")
			fmt.Fprintln(out, "remote public:", encode(remoteKey.Public))
			fmt.Fprintln(out, "remote private:", encode(remoteKey.Private))
			fmt.Fprintf(out, "remote address: %s+%s+%s\n", address, encode(remoteKey.Private), encode(psk))
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "localhost:1047", "address to use in the printed cablehs addresses")
	return cmd
}
