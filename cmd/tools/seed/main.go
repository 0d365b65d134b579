package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/mcast-northd/internal/models"
	"github.com/Sh00ty/mcast-northd/internal/storage/etcd"
)

func main() {
	var (
		endpoints = flag.String("etcd", "localhost:2379", "comma separated etcd endpoints")
		datapaths = flag.Int("datapaths", 2, "logical switches to create")
		groups    = flag.Int("groups", 4, "multicast groups per switch")
		chassis   = flag.Int("chassis", 3, "chassis reporting every group")
		clean     = flag.Bool("clean", false, "delete what a run with the same flags seeded")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	clnt, err := etcd.NewClient(etcd.Config{
		Endpoints:   strings.Split(*endpoints, ","),
		DialTimeout: 5 * time.Second,
		NodeID:      "seed",
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to etcd")
	}
	defer clnt.Close()

	for d := range *datapaths {
		dp := models.DatapathID(fmt.Sprintf("ls%d", d))
		if !*clean {
			err = clnt.PutDatapath(ctx, models.DatapathRow{
				Datapath: dp,
				OtherConfig: map[string]string{
					"mcast_snoop":              "true",
					"mcast_querier":            "true",
					"mcast_idle_timeout":       "300",
					"mcast_eth_src":            fmt.Sprintf("0a:00:00:00:00:%02x", d),
					"mcast_ip4_src":            fmt.Sprintf("10.0.%d.254", d),
					"mcast_table_size":         "2048",
					"mcast_flood_unregistered": "false",
				},
			})
			if err != nil {
				log.Fatal().Err(err).Send()
			}
		}
		for g := range *groups {
			for c := range *chassis {
				report := models.MembershipReport{
					Chassis:  models.ChassisID(fmt.Sprintf("chassis-%d", c)),
					Address:  fmt.Sprintf("239.1.%d.%d", d, g+1),
					Datapath: dp,
					Ports:    models.NewPortSet(fmt.Sprintf("%s-port-%d", dp, c)),
				}
				if *clean {
					err = clnt.DeleteReport(ctx, report.Key())
				} else {
					err = clnt.PutReport(ctx, report)
				}
				if err != nil {
					log.Fatal().Err(err).Send()
				}
			}
		}
		if *clean {
			err = clnt.DeleteDatapath(ctx, dp)
			if err != nil {
				log.Fatal().Err(err).Send()
			}
		}
	}
	if *clean {
		log.Info().Msgf("removed %d datapaths with %d groups each", *datapaths, *groups)
		return
	}
	log.Info().Msgf("seeded %d datapaths with %d groups each", *datapaths, *groups)
}
