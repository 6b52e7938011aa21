package trust

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"allnetd/internal/crypto"
	"allnetd/internal/packet"
)

const maxScanSize = 64 << 10

// Contact is one entry of the contact book: a key that, when it verifies a
// packet signature, places the packet's source at Tier social distance.
type Contact struct {
	Address [packet.AddressSize]byte
	Bits    uint8
	Algo    packet.SigAlgo
	PubKey  []byte
	Tier    int
}

type diskContact struct {
	Address string `json:"address"`
	Bits    int    `json:"bits"`
	Algo    string `json:"algo"`
	PubKey  string `json:"pubkey"`
	Tier    int    `json:"tier,omitempty"`
}

func (c Contact) toDisk() diskContact {
	return diskContact{
		Address: hex.EncodeToString(c.Address[:(int(c.Bits)+7)/8]),
		Bits:    int(c.Bits),
		Algo:    c.Algo.String(),
		PubKey:  hex.EncodeToString(c.PubKey),
		Tier:    c.Tier,
	}
}

// ParseContact builds a contact from its contact book text form.
func ParseContact(address string, bits int, algo, pubkey string, tier int) (Contact, error) {
	return diskContact{Address: address, Bits: bits, Algo: algo, PubKey: pubkey, Tier: tier}.toContact()
}

func (d diskContact) toContact() (Contact, error) {
	var c Contact
	addr, err := hex.DecodeString(d.Address)
	if err != nil || len(addr) > packet.AddressSize {
		return c, fmt.Errorf("bad address %q", d.Address)
	}
	if d.Bits < 0 || d.Bits > packet.MaxAddrBits || len(addr)*8 < d.Bits {
		return c, fmt.Errorf("bad address bits %d", d.Bits)
	}
	algo, err := crypto.ParseAlgo(d.Algo)
	if err != nil {
		return c, err
	}
	pub, err := hex.DecodeString(d.PubKey)
	if err != nil || len(pub) == 0 {
		return c, fmt.Errorf("bad pubkey")
	}
	copy(c.Address[:], addr)
	c.Bits = uint8(d.Bits)
	c.Algo = algo
	c.PubKey = pub
	c.Tier = d.Tier
	if c.Tier <= 0 {
		c.Tier = 1
	}
	return c, nil
}

// AppendContact adds c to the contact book at path, creating it if needed.
func AppendContact(path string, c Contact) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(c.toDisk()); err != nil {
		return err
	}
	return f.Sync()
}

// ReadContacts loads the contact book, skipping malformed lines and
// stopping once capacity bytes of key material have been read. A missing
// book is an empty book. Contacts come back closest tier first.
func ReadContacts(path string, capacity int) ([]Contact, int, error) {
	if path == "" {
		return nil, 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()
	return readContacts(f, capacity)
}

func readContacts(r io.Reader, capacity int) ([]Contact, int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxScanSize)
	var out []Contact
	used := 0
	for sc.Scan() {
		var rec diskContact
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		c, err := rec.toContact()
		if err != nil {
			continue
		}
		if capacity > 0 && used+len(c.PubKey) > capacity {
			break
		}
		used += len(c.PubKey)
		out = append(out, c)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	sortByTier(out)
	return out, used, nil
}

func sortByTier(cs []Contact) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Tier < cs[j].Tier
	})
}
