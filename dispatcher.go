package firesync

// Dispatcher is the local state container remote actions are replayed into.
// Dispatch applies the action synchronously.
type Dispatcher interface {
	Dispatch(action Action)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(action Action)

func (f DispatcherFunc) Dispatch(action Action) { f(action) }
