// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package fence

// DefaultMaxFrame is the default number of frames that
// may be outstanding before a Pacer blocks.
const DefaultMaxFrame = 3

// Pacer limits how far the CPU may run ahead of the GPU.
// It keeps the tickets of outstanding frames in a ring
// and only blocks when more than max frames are
// outstanding.
type Pacer struct {
	ring  []Ticket
	first int
	n     int
	max   int
}

// NewPacer creates a new Pacer that allows max frames
// in flight. If max <= 0, DefaultMaxFrame is used.
func NewPacer(max int) *Pacer {
	if max <= 0 {
		max = DefaultMaxFrame
	}
	return &Pacer{ring: make([]Ticket, max+1), max: max}
}

// Max returns the maximum number of frames in flight.
func (p *Pacer) Max() int { return p.max }

// Outstanding returns the number of frames whose tickets
// have not been observed to complete.
// It polls without blocking.
func (p *Pacer) Outstanding() int {
	p.retire()
	return p.n
}

// retire drops completed tickets from the front.
func (p *Pacer) retire() {
	for p.n > 0 && p.ring[p.first].Completed() {
		p.ring[p.first] = Ticket{}
		p.first = (p.first + 1) % len(p.ring)
		p.n--
	}
}

// Push records the ticket of a submitted frame.
// If this makes more than p.Max() frames outstanding,
// it blocks until the oldest one completes.
// It reports whether it had to wait.
func (p *Pacer) Push(t Ticket) (waited bool, err error) {
	p.retire()
	p.ring[(p.first+p.n)%len(p.ring)] = t
	p.n++
	for p.n > p.max {
		waited = true
		if err = p.ring[p.first].Wait(); err != nil {
			return
		}
		p.retire()
	}
	return
}

// Drain blocks until every outstanding frame completes.
func (p *Pacer) Drain() error {
	for p.n > 0 {
		if err := p.ring[p.first].Wait(); err != nil {
			return err
		}
		p.retire()
	}
	return nil
}
