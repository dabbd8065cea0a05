package muduo

import "github.com/pkg/errors"

// Sentinel errors recognized by the core. Misuse errors are never returned;
// they abort the process through the logging layer instead (see log.go).
var (
	// ErrClosing is returned by TCPServer.Start once Stop has been called.
	ErrClosing = errors.New("muduo: server is closing")

	// ErrConnectionClosed is returned by Send/Shutdown against a
	// TCPConnection that is no longer established.
	ErrConnectionClosed = errors.New("muduo: connection already closed")

	// errUnsupportedListener is an internal error for network types other
	// than "tcp"/"tcp4"/"tcp6", which this module does not serve.
	errUnsupportedListener = errors.New("muduo: only TCP listeners are supported")
)

// wrap annotates err with the failing operation name. Returns nil if err
// is nil.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, "muduo: %s", op)
}
