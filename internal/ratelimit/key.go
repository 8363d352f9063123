package ratelimit

import "strings"

// Store key layout. All keys are namespaced under the store's configured
// prefix; the segments below keep subject kinds from colliding.
const (
	allowListKey = "acl:allow"
	blockListKey = "acl:block"
)

// windowKey addresses the sliding-window log for one (subject, endpoint).
func windowKey(subject Subject, endpoint string) string {
	return "win:" + subject.String() + ":" + endpoint
}

// historyKey addresses the per-subject request history log.
func historyKey(subject Subject) string {
	return "hist:" + subject.String()
}

// profileKey addresses the cached behavior profile.
func profileKey(subject Subject) string {
	return "prof:" + subject.String()
}

// burstKey addresses the burst penalty record.
func burstKey(subject Subject) string {
	return "burst:" + subject.String()
}

// blockKey addresses a TTL-backed block record.
func blockKey(subject Subject) string {
	return "block:" + subject.String()
}

// quotaKey addresses the usage counter for one API key and period.
func quotaKey(apiKey, periodKey string) string {
	return "quota:" + apiKey + ":" + periodKey
}

// historyMember encodes a history log member as "<unique id>|<endpoint>" so
// the detector can recover endpoint diversity from the log alone.
func historyMember(id, endpoint string) string {
	return id + "|" + endpoint
}

// memberEndpoint recovers the endpoint from a history member.
func memberEndpoint(member string) string {
	if idx := strings.IndexByte(member, '|'); idx >= 0 {
		return member[idx+1:]
	}
	return ""
}
