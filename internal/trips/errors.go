package trips

import "errors"

// ErrNotFound indicates a trip lookup miss.
var ErrNotFound = errors.New("trips: not found")
