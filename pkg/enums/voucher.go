package enums

import "fmt"

// VoucherScope says what spend a voucher discounts against.
type VoucherScope string

const (
	VoucherScopePlatform VoucherScope = "platform"
	VoucherScopeShop     VoucherScope = "shop"
	VoucherScopeShipping VoucherScope = "shipping"
)

var validVoucherScopes = []VoucherScope{
	VoucherScopePlatform,
	VoucherScopeShop,
	VoucherScopeShipping,
}

// String implements fmt.Stringer.
func (s VoucherScope) String() string {
	return string(s)
}

// IsValid reports whether the value is a known VoucherScope.
func (s VoucherScope) IsValid() bool {
	for _, candidate := range validVoucherScopes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseVoucherScope converts raw input into a VoucherScope.
func ParseVoucherScope(value string) (VoucherScope, error) {
	for _, candidate := range validVoucherScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid voucher scope %q", value)
}

// VoucherMethod is how the discount amount is computed.
type VoucherMethod string

const (
	VoucherMethodFixed   VoucherMethod = "fixed"
	VoucherMethodPercent VoucherMethod = "percent"
)

var validVoucherMethods = []VoucherMethod{
	VoucherMethodFixed,
	VoucherMethodPercent,
}

// String implements fmt.Stringer.
func (m VoucherMethod) String() string {
	return string(m)
}

// IsValid reports whether the value is a known VoucherMethod.
func (m VoucherMethod) IsValid() bool {
	for _, candidate := range validVoucherMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseVoucherMethod converts raw input into a VoucherMethod.
func ParseVoucherMethod(value string) (VoucherMethod, error) {
	for _, candidate := range validVoucherMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid voucher method %q", value)
}
