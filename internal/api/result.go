package api

// Result is the uniform envelope returned by every Client operation.
// Success is the single source of truth: on success Data is meaningful and
// Error is empty; on failure Error holds presentable text and Err the
// classified cause for errors.Is checks.
type Result[T any] struct {
	Success bool
	Data    T
	Error   string
	Err     error
}

// OK wraps data in a successful Result.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail wraps err in a failed Result with its presentable message.
func Fail[T any](err error) Result[T] {
	if err == nil {
		err = ErrUnexpected
	}

	return Result[T]{Error: UserMessage(err), Err: err}
}

// Unpack converts the envelope into Go's (value, error) form. The returned
// error is a *Failure whose text is the presentable message.
func (r Result[T]) Unpack() (T, error) {
	if r.Success {
		return r.Data, nil
	}

	var zero T

	return zero, &Failure{Message: r.Error, Err: r.Err}
}

// Failure is the error form of a failed Result.
type Failure struct {
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// failAs re-types a failed Result without touching its message.
func failAs[T, U any](r Result[U]) Result[T] {
	return Result[T]{Error: r.Error, Err: r.Err}
}
