package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// idNamespace scopes every derived id so they never collide with random UUIDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("presence-agent"))

// StableID derives a UUID deterministically from seed.
func StableID(seed string) string {
	return uuid.NewSHA1(idNamespace, []byte(seed)).String()
}

// LocalID is the sole idempotency key of a LocalMemory: the same platform post seen by
// the same agent always maps to the same id.
func LocalID(platformID, agentID string) string {
	return StableID(platformID + "-" + agentID)
}

// RoomID groups memories of one conversation for one agent.
func RoomID(conversationID, agentID string) string {
	return StableID(conversationID + "-" + agentID)
}

// UserID maps a platform account id onto a local user id.
func UserID(platformUserID string) string {
	return StableID(platformUserID)
}

// NumericID parses a platform id. Ids are decimal and compared numerically,
// never lexicographically, since their digit counts differ.
func NumericID(id string) (uint64, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
