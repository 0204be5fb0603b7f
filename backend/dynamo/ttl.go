package dynamo

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IsDeleted reports whether an item is a tombstone: flagged deleted, or
// carrying an expired TTL that DynamoDB has not yet removed.
func IsDeleted(item map[string]types.AttributeValue) bool {
	if v, ok := item[AttrDeleted].(*types.AttributeValueMemberBOOL); ok && v.Value {
		return true
	}
	ttlNum, ok := item[AttrTTL].(*types.AttributeValueMemberN)
	if !ok {
		return false // No TTL = active
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= time.Now().Unix()
}

// tombstoneExpiry returns the TTL for a tombstone deleted at now.
func tombstoneExpiry(now time.Time, retention time.Duration) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{
		Value: strconv.FormatInt(now.Add(retention).Unix(), 10),
	}
}
