package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error class CheckPow2 wraps when the tested value
// is zero or not a power of two.
var PowerOfTwoError error = errors.New("value must be a positive power of two")
