package redisclient

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	rankingKeyPrefix = "ranking:all:"
	productMember    = "product:"
)

// RankingKey is the daily leaderboard key, ranking:all:yyyyMMdd
func RankingKey(date time.Time) string {
	return rankingKeyPrefix + date.Format("20060102")
}

// ProductMember is the sorted set member of a product
func ProductMember(productID int64) string {
	return fmt.Sprintf("%s%d", productMember, productID)
}

// ParseProductMember extracts the product id from a member
func ParseProductMember(member string) (int64, error) {
	if !strings.HasPrefix(member, productMember) {
		return 0, fmt.Errorf("invalid ranking member: %q", member)
	}
	return strconv.ParseInt(strings.TrimPrefix(member, productMember), 10, 64)
}
