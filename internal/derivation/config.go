package derivation

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

const (
	KeySnoop             = "mcast_snoop"
	KeyQuerier           = "mcast_querier"
	KeyFloodUnregistered = "mcast_flood_unregistered"
	KeyTableSize         = "mcast_table_size"
	KeyIdleTimeout       = "mcast_idle_timeout"
	KeyQueryInterval     = "mcast_query_interval"
	KeyQueryMaxResponse  = "mcast_query_max_response"
	KeyEthSrc            = "mcast_eth_src"
	KeyIP4Src            = "mcast_ip4_src"
)

const (
	DefaultTableSize        = 2048
	DefaultIdleTimeout      = 300 * time.Second
	MinIdleTimeout          = 15 * time.Second
	MaxIdleTimeout          = 3600 * time.Second
	MinQueryInterval        = time.Second
	DefaultQueryMaxResponse = time.Second
	MaxQueryMaxResponse     = 10 * time.Second
)

// Warning describes a configuration value that could not be used as is.
type Warning struct {
	Datapath models.DatapathID
	Key      string
	Value    string
	Reason   string
}

func (w Warning) String() string {
	return fmt.Sprintf("datapath %s: %s=%q: %s", w.Datapath, w.Key, w.Value, w.Reason)
}

type configParser struct {
	dp       models.DatapathID
	cfg      map[string]string
	warnings []Warning
}

func (p *configParser) warn(key, value, reason string) {
	p.warnings = append(p.warnings, Warning{
		Datapath: p.dp,
		Key:      key,
		Value:    value,
		Reason:   reason,
	})
}

func (p *configParser) boolValue(key string, def bool) bool {
	raw, ok := p.cfg[key]
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.warn(key, raw, fmt.Sprintf("not a boolean, using default %t", def))
		return def
	}
	return v
}

// seconds parses a whole number of seconds and clamps it into [lo, hi].
func (p *configParser) seconds(key string, def, lo, hi time.Duration) time.Duration {
	raw, ok := p.cfg[key]
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		p.warn(key, raw, fmt.Sprintf("not a number of seconds, using default %s", def))
		return def
	}
	v := time.Duration(n) * time.Second
	if v < lo {
		p.warn(key, raw, fmt.Sprintf("below minimum, using %s", lo))
		return lo
	}
	if v > hi {
		p.warn(key, raw, fmt.Sprintf("above maximum, using %s", hi))
		return hi
	}
	return v
}

func (p *configParser) tableSize() uint32 {
	raw, ok := p.cfg[KeyTableSize]
	if !ok {
		return DefaultTableSize
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n == 0 {
		p.warn(KeyTableSize, raw, fmt.Sprintf("not a positive number, using default %d", DefaultTableSize))
		return DefaultTableSize
	}
	return uint32(n)
}

func (p *configParser) ethSrc() string {
	raw, ok := p.cfg[KeyEthSrc]
	if !ok {
		return ""
	}
	mac, err := net.ParseMAC(raw)
	if err != nil || len(mac) != 6 {
		p.warn(KeyEthSrc, raw, "not an ethernet address, ignored")
		return ""
	}
	return mac.String()
}

func (p *configParser) ip4Src() string {
	raw, ok := p.cfg[KeyIP4Src]
	if !ok {
		return ""
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil || !addr.Is4() {
		p.warn(KeyIP4Src, raw, "not an IPv4 address, ignored")
		return ""
	}
	return addr.String()
}

// ParseDatapathConfig builds the multicast config of a datapath. It never
// fails: unusable values fall back to defaults and are returned as warnings.
func ParseDatapathConfig(row models.DatapathRow) (models.DatapathConfig, []Warning) {
	p := &configParser{
		dp:  row.Datapath,
		cfg: row.OtherConfig,
	}
	idle := p.seconds(KeyIdleTimeout, DefaultIdleTimeout, MinIdleTimeout, MaxIdleTimeout)
	cfg := models.DatapathConfig{
		Datapath:          row.Datapath,
		Enabled:           p.boolValue(KeySnoop, false),
		Querier:           p.boolValue(KeyQuerier, true),
		FloodUnregistered: p.boolValue(KeyFloodUnregistered, false),
		TableSize:         p.tableSize(),
		IdleTimeout:       idle,
		QueryInterval:     p.seconds(KeyQueryInterval, max(idle/2, MinQueryInterval), MinQueryInterval, idle),
		QueryMaxResponse:  p.seconds(KeyQueryMaxResponse, DefaultQueryMaxResponse, time.Second, MaxQueryMaxResponse),
		EthSrc:            p.ethSrc(),
		IP4Src:            p.ip4Src(),
	}
	return cfg, p.warnings
}
