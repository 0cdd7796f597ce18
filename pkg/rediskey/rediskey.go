package rediskey

import "fmt"

// Key prefixes shared by every loyalty service.
const (
	MembershipLockPrefix = "loyalty:lock:membership"
	SequencePrefix       = "loyalty:seq"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildMembershipLockKey returns "loyalty:lock:membership:{tenantID}:{membershipID}"
func BuildMembershipLockKey(tenantID, membershipID string) string {
	return NamespaceKey(MembershipLockPrefix, fmt.Sprintf("%s:%s", tenantID, membershipID))
}

// BuildSequenceKey returns "loyalty:seq:{tenantID}:{prefix}"
func BuildSequenceKey(tenantID, prefix string) string {
	return NamespaceKey(SequencePrefix, fmt.Sprintf("%s:%s", tenantID, prefix))
}
