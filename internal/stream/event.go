package stream

// Event carries either a value or the error that ended a live query.
type Event[T any] struct {
	Value T
	Err   error
}
