package cas

import (
	"context"
	"path/filepath"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/core/ports"
)

const NodeID graft.ID = "adapter.run_info_store"

// StorePath is the run-info location relative to the project root.
var StorePath = filepath.Join(".kiln", "run-info.json")

func init() {
	graft.Register(graft.Node[ports.RunInfoStore]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(ctx context.Context) (ports.RunInfoStore, error) {
			return NewStore(StorePath)
		},
	})
}
