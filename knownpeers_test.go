package cablehs

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKnownPeers(t *testing.T) {
	tcheck := func(got, exp error, action string) {
		t.Helper()
		check(t, got, exp, action)
	}

	parsePubKey := func(s string) PublicKey {
		buf, err := base64.RawURLEncoding.DecodeString(s)
		tcheck(err, nil, "parsing public key")
		return PublicKey(buf)
	}

	pubKey1 := parsePubKey("Wd6ylojy2ZSPos2L1mQFWFLlOKDtTJ2-3IS-TaHNh3c")
	pubKey2 := parsePubKey("OM2rHhpaiLiuCJ8BJ44G6xhwEkzZ2Gix5fdgXqomYjI")
	pubKeyUnknown := parsePubKey("M0fS5ygb7LRqn6b7IHZQWB3zbf_St3sWAaHKpNedQlM")

	chdirTemp(t, nil)
	err := CheckKnownPeers("localhost:1047", pubKey1)
	tcheck(err, ErrNoCableDir, "known peers without .cable directory")

	dir := chdirTemp(t, map[string]string{"private_key": ""})
	err = CheckKnownPeers("localhost:1047", pubKey1)
	tcheck(err, ErrNoKnownPeers, "known peers without known_peers file")
	err = CheckTrustOnFirstUse("localhost:1047", pubKey1)
	tcheck(err, ErrNoKnownPeers, "trust on first use without known_peers file")

	knownPeers := strings.Join([]string{
		"# peers",
		"cable0 localhost:1047 " + pubKey1.String(),
		"",
		"cable0 localhost:1048 " + pubKey2.String(),
		"cable1 localhost:1050 " + pubKeyUnknown.String(),
		"",
	}, "\n")
	filename := filepath.Join(dir, ".cable", "known_peers")
	err = os.WriteFile(filename, []byte(knownPeers), 0600)
	tcheck(err, nil, "writing known_peers")

	err = CheckKnownPeers("localhost:1047", pubKey1)
	tcheck(err, nil, "verifying with known peers")

	err = CheckKnownPeers("localhost:1048", pubKey1)
	tcheck(err, ErrPeerUntrusted, "verifying with known peers")

	err = CheckKnownPeers("localhost:1048", pubKey2)
	tcheck(err, nil, "verifying with known peers")

	err = CheckKnownPeers("localhost:1047", pubKeyUnknown)
	tcheck(err, ErrPeerUntrusted, "verifying with known peers")

	// Lines of other versions are ignored.
	err = CheckKnownPeers("localhost:1050", pubKeyUnknown)
	tcheck(err, ErrPeerUntrusted, "verifying with known peers")

	// Already have other keys for this address.
	err = CheckTrustOnFirstUse("localhost:1047", pubKeyUnknown)
	tcheck(err, ErrPeerUntrusted, "verifying with known peers")

	// No entry in known_peers for public key.
	err = CheckKnownPeers("localhost:1049", pubKeyUnknown)
	tcheck(err, ErrPeerUntrusted, "verifying with known peers")

	// Get pubKeyUnknown added for new address.
	err = CheckTrustOnFirstUse("localhost:1049", pubKeyUnknown)
	tcheck(err, nil, "verifying with tofu (adding)")

	// Should still work, just with verification.
	err = CheckTrustOnFirstUse("localhost:1049", pubKeyUnknown)
	tcheck(err, nil, "verifying with tofu (existing)")

	// pubKeyUnknown should now be trusted.
	err = CheckKnownPeers("localhost:1049", pubKeyUnknown)
	tcheck(err, nil, "verifying with known peers")

	buf, err := os.ReadFile(filename)
	tcheck(err, nil, "reading known_peers")
	require.True(t, strings.HasSuffix(string(buf), "cable0 localhost:1049 "+pubKeyUnknown.String()+"\n"))

	// Incoming connections are checked with address "*".
	err = CheckKnownPeers("*", pubKey2)
	tcheck(err, ErrPeerUntrusted, "wildcard without wildcard lines")
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_WRONLY, 0600)
	tcheck(err, nil, "opening known_peers")
	_, err = f.WriteString("cable0 * " + pubKey2.String() + "\n")
	tcheck(err, nil, "adding wildcard line")
	tcheck(f.Close(), nil, "closing known_peers")
	err = CheckKnownPeers("*", pubKey2)
	tcheck(err, nil, "wildcard line")
	err = CheckKnownPeers("localhost:1051", pubKey2)
	tcheck(err, nil, "wildcard line matches any address")

	// Wildcard lines are trusted by trust on first use too, without adding a line.
	err = CheckTrustOnFirstUse("localhost:1052", pubKey2)
	tcheck(err, nil, "tofu with wildcard line")
	err = CheckTrustOnFirstUse("localhost:1047", pubKey2)
	tcheck(err, nil, "tofu with wildcard line for address with other key")
	buf, err = os.ReadFile(filename)
	tcheck(err, nil, "reading known_peers")
	require.NotContains(t, string(buf), "localhost:1052")

	// Addresses without lines of their own are still added.
	err = CheckTrustOnFirstUse("localhost:1053", pubKeyUnknown)
	tcheck(err, nil, "tofu adding next to wildcard line")
	err = CheckKnownPeers("localhost:1053", pubKeyUnknown)
	tcheck(err, nil, "verifying address added by tofu")

	// Incoming connections: the wildcard key is pinned, other clients are refused.
	err = CheckTrustOnFirstUse("*", pubKeyUnknown)
	tcheck(err, ErrPeerUntrusted, "tofu for incoming connection with other key")

	err = os.WriteFile(filename, []byte("cable0 localhost:1047\n"), 0600)
	tcheck(err, nil, "writing bad known_peers")
	err = CheckKnownPeers("localhost:1047", pubKey1)
	tcheck(err, errBadKnownPeers, "malformed known_peers")
}

func TestKnownPeersFor(t *testing.T) {
	l := make([]knownPeer, 1, 4)
	l[0] = knownPeer{Address: "localhost:1047", Linenumber: 1}
	knownPeers := map[string][]knownPeer{
		"localhost:1047": l,
		"*":              {{Address: "*", Linenumber: 2}},
	}

	r := knownPeersFor(knownPeers, "localhost:1047")
	require.Equal(t, []int{1, 2}, []int{r[0].Linenumber, r[1].Linenumber})
	// The lines for the address itself are not modified.
	require.Equal(t, knownPeer{}, l[:2][1])

	r = knownPeersFor(knownPeers, "*")
	require.Len(t, r, 1)
	require.Empty(t, knownPeersFor(map[string][]knownPeer{}, "localhost:1047"))
}
