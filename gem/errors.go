package gem

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrNotSupported is the error class for driver calls the device predates
// or cannot perform on this hardware. Callers degrade gracefully on it.
var ErrNotSupported error = errors.New("operation not supported by device")

// ErrRejected is the error class for submissions the device refused
// because a requested placement cannot be satisfied. It is the expected,
// search-driving outcome of a constraint probe, never a failure of the
// probing environment.
var ErrRejected error = errors.New("submission rejected by device")

// IsNotSupported reports whether err belongs to the not-supported class.
// Device implementations may return ErrNotSupported itself or surface the
// driver errnos directly.
func IsNotSupported(err error) bool {
	return cerrors.Is(err, ErrNotSupported) ||
		cerrors.Is(err, unix.EOPNOTSUPP) ||
		cerrors.Is(err, unix.ENODEV)
}

// IsRejected reports whether err belongs to the rejected class. Placement
// rejections surface from drivers as ENOSPC (the object cannot fit at the
// pinned offset) or EINVAL (the offset violates a hardware restriction);
// both drive the probe search loop.
func IsRejected(err error) bool {
	return cerrors.Is(err, ErrRejected) ||
		cerrors.Is(err, unix.ENOSPC) ||
		cerrors.Is(err, unix.EINVAL)
}
