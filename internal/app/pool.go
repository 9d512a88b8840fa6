package app

import (
	"context"
	"time"

	"github.com/bft-labs/spiship/internal/domain"
)

// Census is a count of batches per owner.
type Census struct {
	Free     int
	Filling  int
	Filled   int
	Draining int
}

// Total returns the number of batches accounted for.
func (c Census) Total() int {
	return c.Free + c.Filling + c.Filled + c.Draining
}

// Pool circulates domain.PoolSize batches between the acquisition and
// transmission tasks. A batch sits in exactly one of: the free queue, the
// front queue, the filled queue, or the hands of one task. Every hand-off
// is checked against the batch owner tag.
type Pool struct {
	batches []*domain.Batch
	free    chan *domain.Batch
	front   chan *domain.Batch
	filled  chan *domain.Batch
}

// NewPool creates the pool with every batch free and empty.
func NewPool() *Pool {
	p := &Pool{
		batches: make([]*domain.Batch, domain.PoolSize),
		free:    make(chan *domain.Batch, domain.PoolSize),
		front:   make(chan *domain.Batch, domain.PoolSize),
		filled:  make(chan *domain.Batch, domain.PoolSize),
	}
	for i := range p.batches {
		b := domain.NewBatch(i)
		p.batches[i] = b
		p.free <- b
	}
	return p
}

// AcquireFree takes a batch for filling. A batch returned with ReturnFront is
// preferred over the free queue so partially filled data goes out first.
func (p *Pool) AcquireFree(ctx context.Context) (*domain.Batch, error) {
	var b *domain.Batch
	select {
	case b = <-p.front:
	default:
		select {
		case b = <-p.front:
		case b = <-p.free:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := b.Transfer(domain.OwnerFree, domain.OwnerFilling); err != nil {
		return nil, err
	}
	return b, nil
}

// ReturnFront gives a batch back to the producer side with its contents
// intact. The next AcquireFree returns it.
func (p *Pool) ReturnFront(b *domain.Batch) error {
	if err := b.Transfer(domain.OwnerFilling, domain.OwnerFree); err != nil {
		return err
	}
	p.front <- b
	return nil
}

// PublishFilled hands a full batch to the consumer. If the filled queue stays
// full for longer than timeout the batch goes back to the front queue with
// its contents and domain.ErrPublishTimeout is returned.
func (p *Pool) PublishFilled(ctx context.Context, b *domain.Batch, timeout time.Duration) error {
	if err := b.Transfer(domain.OwnerFilling, domain.OwnerFilled); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		if uerr := p.unpublish(b); uerr != nil {
			return uerr
		}
		return err
	}

	select {
	case p.filled <- b:
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case p.filled <- b:
		return nil
	case <-t.C:
		if err := p.unpublish(b); err != nil {
			return err
		}
		return domain.ErrPublishTimeout
	case <-ctx.Done():
		if err := p.unpublish(b); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (p *Pool) unpublish(b *domain.Batch) error {
	if err := b.Transfer(domain.OwnerFilled, domain.OwnerFree); err != nil {
		return err
	}
	p.front <- b
	return nil
}

// AcquireFilled takes the oldest published batch for sending.
func (p *Pool) AcquireFilled(ctx context.Context) (*domain.Batch, error) {
	select {
	case b := <-p.filled:
		if err := b.Transfer(domain.OwnerFilled, domain.OwnerDraining); err != nil {
			return nil, err
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReleaseToFree resets a sent or discarded batch and returns it to the free queue.
func (p *Pool) ReleaseToFree(b *domain.Batch) error {
	if err := b.Transfer(domain.OwnerDraining, domain.OwnerFree); err != nil {
		return err
	}
	b.Reset()
	p.free <- b
	return nil
}

// DrainFilled discards every batch waiting in the filled queue and returns
// how many were discarded.
func (p *Pool) DrainFilled() (int, error) {
	n := 0
	for {
		select {
		case b := <-p.filled:
			if err := b.Transfer(domain.OwnerFilled, domain.OwnerDraining); err != nil {
				return n, err
			}
			if err := p.ReleaseToFree(b); err != nil {
				return n, err
			}
			n++
		default:
			return n, nil
		}
	}
}

// Census counts batches by owner tag. It is exact only when neither task is
// mid-transition.
func (p *Pool) Census() Census {
	var c Census
	for _, b := range p.batches {
		switch b.Owner() {
		case domain.OwnerFree:
			c.Free++
		case domain.OwnerFilling:
			c.Filling++
		case domain.OwnerFilled:
			c.Filled++
		case domain.OwnerDraining:
			c.Draining++
		}
	}
	return c
}
