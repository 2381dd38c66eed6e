package provisioner

// Pool runs submitted functions on at most size concurrent goroutines.
// Submission itself never blocks: excess work queues on parked
// goroutines until a slot frees up.
type Pool struct {
	sem chan struct{}
}

func NewPool(size int) *Pool {
	return &Pool{sem: make(chan struct{}, size)}
}

func (p *Pool) Go(fn func()) {
	go func() {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		fn()
	}()
}
