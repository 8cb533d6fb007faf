// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codarpc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/blinklabs-io/gocodarpc/internal/queue"
)

const DefaultResponderWorkers = 16

type inboundQuery struct {
	event     Event
	responder ResponderFunc
	query     []byte
}

// responderPool runs responders on a fixed number of workers. Queries submitted while
// every worker is busy wait in an unbounded queue, so submitting never blocks.
type responderPool struct {
	numWorkers int
	handle     func(context.Context, *inboundQuery)
	pending    *queue.Queue[*inboundQuery]
	work       chan *inboundQuery
	wg         sync.WaitGroup
	started    atomic.Bool
}

func newResponderPool(numWorkers int, handle func(context.Context, *inboundQuery)) *responderPool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &responderPool{
		numWorkers: numWorkers,
		handle:     handle,
		pending:    queue.New[*inboundQuery](),
		work:       make(chan *inboundQuery),
	}
}

// Start starts the workers. Calling it again has no effect.
func (p *responderPool) Start(ctx context.Context) {
	if p.started.Swap(true) {
		return
	}
	p.wg.Add(1)
	go p.dispatch(ctx)
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *responderPool) Submit(query *inboundQuery) bool {
	return p.pending.Push(query)
}

// Stop waits for the workers, which return once the context passed to Start is done.
// Queries still waiting are dropped.
func (p *responderPool) Stop() int {
	p.wg.Wait()
	return len(p.pending.Close())
}

func (p *responderPool) dispatch(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.pending.Notify():
			queries := p.pending.Drain()
			for i, query := range queries {
				select {
				case p.work <- query:
				case <-ctx.Done():
					// Left for Stop to count
					for _, rest := range queries[i:] {
						p.pending.Push(rest)
					}
					return
				}
			}
		}
	}
}

func (p *responderPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case query := <-p.work:
			p.handle(ctx, query)
			if ctx.Err() != nil {
				return
			}
		}
	}
}
