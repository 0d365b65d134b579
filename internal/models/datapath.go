package models

import "time"

// DatapathID identifies a logical switch or router.
type DatapathID string

func (d DatapathID) String() string {
	return string(d)
}

// DatapathRow is a northbound configuration row as the input sources see it.
type DatapathRow struct {
	Datapath    DatapathID
	OtherConfig map[string]string
}

// DatapathConfig is the multicast configuration derived from a DatapathRow.
type DatapathConfig struct {
	Datapath          DatapathID
	Enabled           bool
	Querier           bool
	FloodUnregistered bool
	TableSize         uint32
	IdleTimeout       time.Duration
	QueryInterval     time.Duration
	QueryMaxResponse  time.Duration
	EthSrc            string
	IP4Src            string
}
