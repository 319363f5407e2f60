package cablehs

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"
)

// KnownPeersVersion is the first word of lines in the known peers file.
const KnownPeersVersion = "cable0"

type knownPeer struct {
	Address    string
	PublicKey  PublicKey
	Linenumber int
}

func readKnownPeers() (string, map[string][]knownPeer, error) {
	dir, err := NearestCableDir()
	if err != nil {
		return "", nil, err
	}

	filename := dir + "/known_peers"
	f, err := os.Open(filename)
	if err != nil {
		return "", nil, prefixError(ErrNoKnownPeers, "opening known peers file: %s", err)
	}
	defer f.Close()

	knownPeers := map[string][]knownPeer{}

	b := bufio.NewReader(f)
	linenumber := 0
	for {
		line, err := b.ReadString('\n')
		if err != nil && err != io.EOF {
			return filename, nil, err
		}
		if line == "" && err == io.EOF {
			break
		}
		linenumber++
		line = strings.TrimSuffix(line, "\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t := strings.Split(line, " ")
		if len(t) != 3 {
			return filename, nil, prefixError(errBadKnownPeers, "%s:%d: malformed line, expect three space-separated words", filename, linenumber)
		}
		version, address, pubKeyStr := t[0], t[1], t[2]
		if version != KnownPeersVersion {
			continue
		}

		pubKey, err := base64.RawURLEncoding.DecodeString(pubKeyStr)
		if err != nil {
			return filename, nil, prefixError(errBadKnownPeers, "%s:%d: malformed public key %q: %s", filename, linenumber, pubKeyStr, err)
		}
		if len(pubKey) != 32 {
			return filename, nil, prefixError(errBadKnownPeers, "%s:%d: invalid public key, got length %d, must be 32", filename, linenumber, len(pubKey))
		}
		kp := knownPeer{
			Address:    address,
			PublicKey:  PublicKey(pubKey),
			Linenumber: linenumber,
		}
		knownPeers[address] = append(knownPeers[address], kp)
	}
	return filename, knownPeers, nil
}

func addKnownPeer(address string, pubKey PublicKey) error {
	dir, err := NearestCableDir()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(dir+"/known_peers", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, "%s %s %s\n", KnownPeersVersion, address, pubKey)
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// knownPeersFor returns the lines for address followed by the lines for "*".
func knownPeersFor(knownPeers map[string][]knownPeer, address string) []knownPeer {
	l := append([]knownPeer{}, knownPeers[address]...)
	if address != "*" {
		l = append(l, knownPeers["*"]...)
	}
	return l
}

func matchKnownPeer(filename, address string, l []knownPeer, pubKey PublicKey) error {
	for _, kp := range l {
		if bytes.Equal(kp.PublicKey, pubKey) {
			return nil
		}
	}
	if len(l) == 1 {
		return prefixError(ErrPeerUntrusted, "%s:%d: key mismatch for %q, got %s, expected %s, potential MITM", filename, l[0].Linenumber, address, pubKey, l[0].PublicKey)
	}
	return prefixError(ErrPeerUntrusted, "%s: none of the multiple keys for %q match", filename, address)
}

// CheckKnownPeers looks up address in the "known_peers" file in the nearest
// ".cable" directory. If it is present and the public key matches,
// CheckKnownPeers returns nil. Lines with address "*" match any address.
//
// CheckKnownPeers can be used as Config.CheckPeerStatic.
func CheckKnownPeers(address string, pubKey PublicKey) error {
	filename, knownPeers, err := readKnownPeers()
	if err != nil {
		return err
	}
	l := knownPeersFor(knownPeers, address)
	if len(l) == 0 {
		return prefixError(ErrPeerUntrusted, "unknown peer %q with public key %s", address, pubKey)
	}
	return matchKnownPeer(filename, address, l, pubKey)
}

// CheckTrustOnFirstUse is like CheckKnownPeers. If a public key is associated
// with the address in the "known_peers" file, or with "*", the check passes. If
// the key does not match and the address is not in the "known_peers" file,
// CheckTrustOnFirstUse adds the remote public key to the file. Future
// connections to the same address require the same public key from remote.
//
// Listeners check incoming connections with address "*". The first client is
// then trusted for all incoming connections, and other clients are refused.
// Add a "*" line per client instead when accepting multiple clients.
//
// It is an error if the "known_peers" file does not exist yet.
func CheckTrustOnFirstUse(address string, pubKey PublicKey) error {
	filename, knownPeers, err := readKnownPeers()
	if err != nil {
		return err
	}
	err = matchKnownPeer(filename, address, knownPeersFor(knownPeers, address), pubKey)
	if err == nil || len(knownPeers[address]) > 0 {
		return err
	}
	err = addKnownPeer(address, pubKey)
	if err != nil {
		return fmt.Errorf("adding %s with public key %s to known peers file: %s", address, pubKey, err)
	}
	return nil
}
