package template

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/core/ports"
)

const NodeID graft.ID = "adapter.templater"

func init() {
	graft.Register(graft.Node[ports.Templater]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(ctx context.Context) (ports.Templater, error) {
			return New(), nil
		},
	})
}
