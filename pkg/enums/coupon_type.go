package enums

import "fmt"

// CouponType selects how a coupon's discount is computed.
type CouponType string

const (
	CouponTypeOrderPercent CouponType = "ORDER_PERCENT"
	CouponTypeOrderAmount  CouponType = "ORDER_AMOUNT"
	CouponTypeItemPercent  CouponType = "ITEM_PERCENT"
	CouponTypeBuyXGetY     CouponType = "BUY_X_GET_Y"
)

var validCouponTypes = []CouponType{
	CouponTypeOrderPercent,
	CouponTypeOrderAmount,
	CouponTypeItemPercent,
	CouponTypeBuyXGetY,
}

func (c CouponType) String() string {
	return string(c)
}

func (c CouponType) IsValid() bool {
	for _, candidate := range validCouponTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsScoped reports whether the coupon only applies to listed variants.
func (c CouponType) IsScoped() bool {
	return c == CouponTypeItemPercent || c == CouponTypeBuyXGetY
}

func ParseCouponType(value string) (CouponType, error) {
	for _, candidate := range validCouponTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid coupon type %q", value)
}
