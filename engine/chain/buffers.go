package chain

import (
	"github.com/squidspace/sqs/engine/scratch"
)

const (
	bufferA = "sd1"
	bufferB = "sd2"
)

// buffers is the alternating pair of scratch directories between stages.
// One side holds the current working set while the other receives the next
// stage's outputs; swap flips the roles and empties the new output side.
type buffers struct {
	pair  [2]*scratch.Workspace
	out   int
	swaps int
}

func newBuffers(ws *scratch.Workspace) (*buffers, error) {
	a, err := ws.SpawnChild(bufferA)
	if err != nil {
		return nil, err
	}
	b, err := ws.SpawnChild(bufferB)
	if err != nil {
		return nil, err
	}
	return &buffers{pair: [2]*scratch.Workspace{a, b}, out: 1}, nil
}

func (b *buffers) output() *scratch.Workspace {
	return b.pair[b.out]
}

func (b *buffers) input() *scratch.Workspace {
	return b.pair[1-b.out]
}

func (b *buffers) swap() error {
	b.out = 1 - b.out
	b.swaps++
	return b.output().Clear()
}
