package model

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

const (
	prefixSubscription = "sub"
	prefixPayment      = "pay"
)

func NewSubscriptionID() string { return newID(prefixSubscription) }
func NewPaymentID() string      { return newID(prefixPayment) }

func newID(prefix string) string {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("model: invalid id prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// ValidID reports whether s is a well formed id carrying prefix.
func ValidID(s, prefix string) bool {
	tid, err := typeid.Parse(s)
	if err != nil {
		return false
	}
	return tid.Prefix() == prefix
}

func ValidSubscriptionID(s string) bool { return ValidID(s, prefixSubscription) }
func ValidPaymentID(s string) bool      { return ValidID(s, prefixPayment) }
