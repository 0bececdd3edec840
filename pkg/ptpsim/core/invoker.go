package core

// Invoker spawns goroutines on behalf of a node. Production code uses the
// default, bare `go f()` invoker; tests substitute one backed by a
// sync.WaitGroup so a whole topology's goroutines can be waited on before
// asserting goleak.VerifyNone (mirrors the teacher's core.Invoker /
// test.TestInvoker split).
type Invoker interface {
	Spawn(f func())
}

type defaultInvoker struct{}

func (defaultInvoker) Spawn(f func()) { go f() }

var instance Invoker = defaultInvoker{}

// InvokerInstance returns the process-wide invoker used by node roles that
// don't have one explicitly configured.
func InvokerInstance() Invoker {
	return instance
}

// SetInvoker overrides the process-wide invoker. Intended for tests.
func SetInvoker(i Invoker) {
	instance = i
}
