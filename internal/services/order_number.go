package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/farmgate/services/orders/internal/models"
	"example.com/farmgate/services/orders/internal/repositories"
	"example.com/farmgate/services/orders/internal/workflow"
)

// maxNumberProbes bounds the collision probe before falling back to a
// timestamp-derived suffix.
const maxNumberProbes = 100

// GenerateOrderNumber produces a unique human-readable order number of
// the form {PREFIX}-{YEAR}-{SEQ}. The next sequence is derived from the
// highest existing number for the prefix and year, then probed for
// collisions. Must run inside the order-creation transaction so a racing
// creator fails its probe instead of issuing a duplicate. Soft-deleted
// orders keep their numbers in the unique index, so both queries run
// unscoped.
func GenerateOrderNumber(tx *gorm.DB, orderType workflow.OrderType, now time.Time) (string, error) {
	prefix := NumberPrefix(orderType)
	year := now.Year()
	base := fmt.Sprintf("%s-%d-", prefix, year)

	seq := 1
	var last models.Order
	err := tx.Unscoped().
		Where("order_number LIKE ?", base+"%").
		Order("order_number DESC").
		First(&last).Error
	switch {
	case err == nil:
		seq = parseSequence(last.OrderNumber, base) + 1
	case errors.Is(err, gorm.ErrRecordNotFound):
		// first order of the year for this type
	default:
		return "", errors.Wrap(err, "failed to find highest order number")
	}

	for attempt := 0; attempt < maxNumberProbes; attempt++ {
		candidate := fmt.Sprintf("%s%04d", base, seq)
		var count int64
		if err := tx.Unscoped().
			Model(&models.Order{}).
			Where("order_number = ?", candidate).
			Count(&count).Error; err != nil {
			return "", errors.Wrap(err, "failed to probe order number")
		}
		if count == 0 {
			return candidate, nil
		}
		seq++
	}

	// Liveness over strict sequentiality: fall back to a timestamp suffix
	return fmt.Sprintf("%s%d", base, now.UnixNano()%1_000_000_000), nil
}

// duplicateNumberConflict translates a unique violation on the order
// number into a retryable conflict; a racing creator that lost the probe
// may simply retry. Any other error stays an infrastructure failure.
func duplicateNumberConflict(err error, number string) error {
	if repositories.IsDuplicateKey(err) {
		return workflow.Errorf(workflow.KindConflict,
			"order number %s was taken concurrently", number)
	}
	return errors.Wrap(err, "failed to create order")
}

// NumberPrefix derives the three-letter number prefix for an order type
func NumberPrefix(orderType workflow.OrderType) string {
	upper := strings.ToUpper(string(orderType))
	if len(upper) > 3 {
		upper = upper[:3]
	}
	return upper
}

// parseSequence extracts the numeric sequence from an order number,
// tolerating timestamp-suffixed fallback numbers.
func parseSequence(number, base string) int {
	suffix := strings.TrimPrefix(number, base)
	seq, err := strconv.Atoi(suffix)
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
