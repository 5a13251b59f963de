package stories

// Result is the uniform outcome handed to presentation code.
// Offline marks data served from the local store or a write deferred to the queue.
type Result[T any] struct {
	Success bool
	Data    T
	Message string
	Offline bool
}

func succeeded[T any](data T, msg string) Result[T] {
	return Result[T]{Success: true, Data: data, Message: msg}
}

func offline[T any](data T, msg string) Result[T] {
	return Result[T]{Success: true, Data: data, Message: msg, Offline: true}
}

func failed[T any](msg string) Result[T] {
	return Result[T]{Message: msg}
}
