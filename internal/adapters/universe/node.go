package universe

import (
	"context"
	"os"
	"path/filepath"

	"github.com/grindlemire/graft"
	"go.trai.ch/kiln/internal/adapters/logger"
	"go.trai.ch/kiln/internal/core/ports"
)

const NodeID graft.ID = "adapter.universe"

// ChannelDir returns the channel cache root: KILN_CHANNEL_DIR when set,
// otherwise .kiln/channels under the working directory.
func ChannelDir() string {
	if dir := os.Getenv("KILN_CHANNEL_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(".kiln", "channels")
}

func init() {
	graft.Register(graft.Node[ports.Universe]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (ports.Universe, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return NewSnapshot(ChannelDir(), log), nil
		},
	})
}
