package telegram

import (
	"github.com/lattice-run/lattice/pkg/bus"
	"github.com/lattice-run/lattice/pkg/channels"
	"github.com/lattice-run/lattice/pkg/config"
)

func init() {
	channels.RegisterFactory("telegram", func(cfg *config.Config, b *bus.MessageBus) (channels.Channel, error) {
		return NewTelegramChannel(cfg, b)
	})
}
