package etcd

import (
	"fmt"
	"path"
	"strings"

	"github.com/Sh00ty/mcast-northd/internal/models"
)

/*
mcast-northd/nb/datapaths/ls1(%s)                                  -> datapathDto
mcast-northd/sb/igmp-groups/ch1(%s)/ls1(%s)/239.0.0.1(%s)          -> reportDto

mcast-northd/sb/output/ls1(%s)                                     -> outputDto

mcast-northd/leader                                                -> election
*/

const (
	rootFolder            = "/mcast-northd"
	northboundFolder      = rootFolder + "/nb"
	southboundFolder      = rootFolder + "/sb"
	DatapathsFolder       = northboundFolder + "/datapaths"
	ReportsFolder         = southboundFolder + "/igmp-groups"
	OutputFolder          = southboundFolder + "/output"
	LeadershipKey         = rootFolder + "/leader"
)

// mcast-northd/nb/datapaths/ls1(%s)
func DatapathKey(id models.DatapathID) string {
	return path.Join(DatapathsFolder, string(id))
}

// mcast-northd/sb/igmp-groups/ch1(%s)/ls1(%s)/239.0.0.1(%s)
func ReportKey(key models.MembershipKey) string {
	return path.Join(ReportsFolder, string(key.Chassis), string(key.Datapath), key.Address)
}

// mcast-northd/sb/output/ls1(%s)
//
// All multicast groups and logical flows of a datapath live in one value, so
// a commit costs one txn op per changed datapath.
func outputKey(id models.DatapathID) string {
	return path.Join(OutputFolder, string(id))
}

func parseDatapathKey(key string) (models.DatapathID, error) {
	id, ok := strings.CutPrefix(key, DatapathsFolder+"/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %s", ErrParseKey, key)
	}
	return models.DatapathID(id), nil
}

func parseOutputKey(key string) (models.DatapathID, error) {
	id, ok := strings.CutPrefix(key, OutputFolder+"/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("%w: %s", ErrParseKey, key)
	}
	return models.DatapathID(id), nil
}

func parseReportKey(key string) (models.MembershipKey, error) {
	rest, ok := strings.CutPrefix(key, ReportsFolder+"/")
	if !ok {
		return models.MembershipKey{}, fmt.Errorf("%w: %s", ErrParseKey, key)
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return models.MembershipKey{}, fmt.Errorf("%w: %s", ErrParseKey, key)
	}
	return models.MembershipKey{
		Chassis:  models.ChassisID(parts[0]),
		Datapath: models.DatapathID(parts[1]),
		Address:  parts[2],
	}, nil
}
