package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultCacheSize is the number of recently issued values remembered
	// to avoid handing out the same identity twice.
	DefaultCacheSize = 64

	// HostNameLength is the length of generated host names
	HostNameLength = 10

	// maxDraws bounds redraws on a cache collision
	maxDraws = 16
)

// DefaultPrefix is the fixed vendor triplet used for generated hardware addresses.
const DefaultPrefix = "00:16:3e"

// Config holds generator configuration
type Config struct {
	Prefix    string // "xx:xx:xx", DefaultPrefix when empty
	CacheSize int
	Rand      io.Reader // Random source, crypto/rand when nil
}

// Generator produces randomized hardware addresses and host names.
type Generator struct {
	prefix [3]byte
	rand   io.Reader
	recent *lru.Cache[string, struct{}]
	mu     sync.Mutex
}

// NewGenerator creates a new identity generator
func NewGenerator(config Config) (*Generator, error) {
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}

	prefix, err := ParsePrefix(config.Prefix)
	if err != nil {
		return nil, err
	}

	recent, err := lru.New[string, struct{}](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}

	return &Generator{
		prefix: prefix,
		rand:   config.Rand,
		recent: recent,
	}, nil
}

// NewHardwareAddress returns a random address of the form pp:pp:pp:xx:xx:xx.
// The fourth octet is kept within 0x00-0x7f.
func (g *Generator) NewHardwareAddress() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var addr string
	for i := 0; i < maxDraws; i++ {
		addr = g.drawHardwareAddress()
		if !g.recent.Contains(addr) {
			break
		}
	}
	g.recent.Add(addr, struct{}{})
	return addr
}

// NewHostName returns a random 10 character uppercase token.
func (g *Generator) NewHostName() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var name string
	for i := 0; i < maxDraws; i++ {
		name = g.drawHostName()
		if !g.recent.Contains(name) {
			break
		}
	}
	g.recent.Add(name, struct{}{})
	return name
}

func (g *Generator) drawHardwareAddress() string {
	var suffix [3]byte
	if _, err := io.ReadFull(g.rand, suffix[:]); err != nil {
		// This should never happen with a working system RNG
		panic(fmt.Sprintf("failed to read random bytes: %v", err))
	}
	suffix[0] &= 0x7f

	return FormatHardwareAddress([6]byte{
		g.prefix[0], g.prefix[1], g.prefix[2],
		suffix[0], suffix[1], suffix[2],
	})
}

func (g *Generator) drawHostName() string {
	id, err := uuid.NewRandomFromReader(g.rand)
	if err != nil {
		panic(fmt.Sprintf("failed to generate random host name: %v", err))
	}
	name := strings.ReplaceAll(strings.ToUpper(id.String()), "-", "")
	return name[:HostNameLength]
}

// FormatHardwareAddress formats six octets as lowercase colon-separated hex pairs.
func FormatHardwareAddress(octets [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		octets[0], octets[1], octets[2], octets[3], octets[4], octets[5])
}

// ParsePrefix parses a three octet vendor prefix such as "00:16:3e". The
// prefix must be unicast: interfaces refuse addresses with the group bit set.
func ParsePrefix(s string) ([3]byte, error) {
	var prefix [3]byte

	parts := strings.Split(s, ":")
	if len(parts) != len(prefix) {
		return prefix, fmt.Errorf("invalid hardware prefix %q: want three octets", s)
	}
	for i, part := range parts {
		if len(part) != 2 {
			return prefix, fmt.Errorf("invalid hardware prefix %q: octet %q", s, part)
		}
		b, err := hex.DecodeString(part)
		if err != nil {
			return prefix, fmt.Errorf("invalid hardware prefix %q: %w", s, err)
		}
		prefix[i] = b[0]
	}
	if prefix[0]&0x01 != 0 {
		return prefix, fmt.Errorf("invalid hardware prefix %q: multicast first octet", s)
	}
	return prefix, nil
}
