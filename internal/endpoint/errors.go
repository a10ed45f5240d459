package endpoint

import "errors"

// ErrEndpointClosed is returned by ThreadEndpoint.Send issued after the
// worker goroutine has already exited. The other endpoint kinds report a
// closed transport through their encoder's or connection's own error.
var ErrEndpointClosed = errors.New("endpoint: closed")
