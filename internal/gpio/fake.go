package gpio

import "sync"

// FakeOutput is a test double that records every value written.
type FakeOutput struct {
	mu sync.Mutex

	// Writes contains every value passed to Set, in order.
	Writes []bool

	// Closed tracks if Close was called
	Closed bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// NewFakeOutput creates a FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the value.
func (f *FakeOutput) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.Writes = append(f.Writes, on)
	return nil
}

// Level returns the last value written, false if none.
func (f *FakeOutput) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Writes) == 0 {
		return false
	}
	return f.Writes[len(f.Writes)-1]
}

// Rises returns how many times the line went from low to high.
func (f *FakeOutput) Rises() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, prev := 0, false
	for _, v := range f.Writes {
		if v && !prev {
			n++
		}
		prev = v
	}
	return n
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// Reset clears recorded writes.
func (f *FakeOutput) Reset() {
	f.mu.Lock()
	f.Writes = nil
	f.Closed = false
	f.SetError = nil
	f.mu.Unlock()
}
