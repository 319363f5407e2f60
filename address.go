package cablehs

import (
	"encoding/base64"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/xerrors"
)

var newlyGenerated struct {
	sync.Mutex
	key *noise.DHKey
}

// ParseAddress parses a regular "host:port" address, or a cablehs address of
// the form "host:port+local+psk". Config is updated with information from
// "local" and "psk". The leftover regular address is stored in config.Address.
//
// "Local" specifies the local static private key, and must be one of:
//
//	- a literal base64-raw-url-encoded key.
//	  Keep in mind this address may be printed or logged, revealing it unintentionally.
//	- "fs", read the key from the file "private_key" from the nearest ".cable"
//	  directory. The default for regular addresses.
//	- "new", a new private key is created and used for the lifetime of the program.
//	- "" (empty string), nothing is done, in which case the "config" parameter must
//	  contain a key pair.
//
// "Psk" specifies the 32-byte preshared key, and must be one of:
//
//	- a literal base64-raw-url-encoded key.
//	- "fs", read the key from the file "psk" from the nearest ".cable" directory.
//	  The default for regular addresses.
//	- "" (empty string), nothing is done, in which case the "config" parameter must
//	  contain a preshared key.
//
// Example addresses:
//
//	localhost:1047
//	localhost:1047+fs+fs
//	localhost:1047+new+fs
//	localhost:1047+EzckHRK9zMVib3vIHYc17LztyyabLGaV5F7Z-ye5yRQ+S1KCaHr7wHI4f06GY4uPstZnPC6UIDzwkYq48B3lhG8
func ParseAddress(address string, config *Config) (rerr error) {
	// NOTE: we don't include the address in error messages: it might contain a private key.

	if address == config.Address {
		return nil
	}
	if config.Address != "" {
		return prefixError(ErrBadConfig, "an address was already parsed into the config")
	}

	t := strings.Split(address, "+")
	if len(t) > 3 {
		return prefixError(ErrBadAddress, "found more than 3 plus-separated tokens in address")
	}

	config.Address = t[0]

	var err error
	if len(t) > 1 {
		err = loadPrivate(t[1], config)
	} else if config.KeyPair == nil {
		err = loadPrivate("fs", config)
	}
	if err != nil {
		return err
	}

	if len(t) > 2 {
		err = loadPSK(t[2], config)
	} else if config.PSK == nil {
		err = loadPSK("fs", config)
	}
	return err
}

// ParsePrivateKey returns the key pair for a 32-byte private key.
func ParsePrivateKey(privBuf []byte) (*noise.DHKey, error) {
	if len(privBuf) != curve25519.ScalarSize {
		return nil, prefixError(ErrBadKey, "got %d bytes expected %d bytes", len(privBuf), curve25519.ScalarSize)
	}
	privKey := make([]byte, curve25519.ScalarSize)
	copy(privKey, privBuf)
	pubKey, err := curve25519.X25519(privKey, curve25519.Basepoint)
	if err != nil {
		return nil, prefixError(ErrBadKey, "deriving public key: %s", err)
	}
	return &noise.DHKey{Private: privKey, Public: pubKey}, nil
}

// ParsePSK decodes a base64-raw-url-encoded 32-byte preshared key.
func ParsePSK(s string) ([]byte, error) {
	psk, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, prefixError(ErrBadKey, "bad base64-raw-url for preshared key: %s", err)
	}
	if len(psk) != PSKSize {
		return nil, prefixError(ErrBadKey, "preshared key is %d bytes, must be %d", len(psk), PSKSize)
	}
	return psk, nil
}

func loadPrivate(specifier string, config *Config) error {
	switch specifier {
	case "new":
		if config.KeyPair != nil {
			return prefixError(ErrBadConfig, "config already has a key pair")
		}
		newlyGenerated.Lock()
		defer newlyGenerated.Unlock()
		if newlyGenerated.key == nil {
			key, err := GenerateKeyPair(config.Rand)
			if err != nil {
				return err
			}
			newlyGenerated.key = &key
		}
		config.KeyPair = newlyGenerated.key
	case "fs":
		if config.KeyPair != nil {
			return prefixError(ErrBadConfig, "config already has a key pair")
		}
		buf, err := readNearestKeyFile("private_key", ErrNoPrivateKey)
		if err != nil {
			return xerrors.Errorf("reading nearest private key in file system: %w", err)
		}
		defer wipe(buf)
		config.KeyPair, err = ParsePrivateKey(buf)
		if err != nil {
			return err
		}
	case "":
		if config.KeyPair == nil {
			return ErrNoPrivateKey
		}
	default:
		privKey, err := base64.RawURLEncoding.DecodeString(specifier)
		if err != nil {
			return prefixError(ErrBadKey, "bad base64-raw-url for private key: %s", err)
		}
		config.KeyPair, err = ParsePrivateKey(privKey)
		if err != nil {
			return prefixError(ErrBadKey, "parsing private key: %s", err)
		}
	}
	return nil
}

func loadPSK(specifier string, config *Config) error {
	switch specifier {
	case "fs":
		if config.PSK != nil {
			return prefixError(ErrBadConfig, "config already has a preshared key")
		}
		buf, err := readNearestKeyFile("psk", ErrNoPSK)
		if err != nil {
			return xerrors.Errorf("reading nearest preshared key in file system: %w", err)
		}
		if len(buf) != PSKSize {
			wipe(buf)
			return prefixError(ErrBadKey, "preshared key is %d bytes, must be %d", len(buf), PSKSize)
		}
		config.PSK = buf
	case "":
		if config.PSK == nil {
			return ErrNoPSK
		}
	default:
		psk, err := ParsePSK(specifier)
		if err != nil {
			return err
		}
		config.PSK = psk
	}
	return nil
}

// readNearestKeyFile reads and decodes a base64-raw-url-encoded key from name
// in the nearest .cable directory. Missing files are reported as missing.
func readNearestKeyFile(name string, missing error) ([]byte, error) {
	dir, err := NearestCableDir()
	if err != nil {
		return nil, err
	}

	f, err := os.Open(dir + "/" + name)
	if err != nil {
		return nil, prefixError(missing, "opening key file: %s", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	perm := info.Mode() & os.ModePerm
	if perm&07 != 0 {
		return nil, prefixError(missing, "refusing to read key from world-accessible %s", f.Name())
	}

	// Read the key from file in "buf" below, and clear it when we are done. The
	// decoded key is returned in a separate buffer.
	buf := make([]byte, 64)
	defer wipe(buf)
	have := 0
	for {
		n, err := f.Read(buf[have:])
		have += n
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if have == len(buf) {
			return nil, prefixError(ErrBadKey, "too long for a key")
		}
	}
	key := make([]byte, base64.RawURLEncoding.DecodedLen(have))
	n, err := base64.RawURLEncoding.Decode(key, buf[:have])
	if err != nil {
		wipe(key)
		return nil, prefixError(ErrBadKey, "decoding base64-raw-url key: %s", err)
	}
	return key[:n], nil
}

//go:noinline
func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
