package whatsapp

import (
	"github.com/lattice-run/lattice/pkg/bus"
	"github.com/lattice-run/lattice/pkg/channels"
	"github.com/lattice-run/lattice/pkg/config"
)

func init() {
	channels.RegisterFactory("whatsapp", func(cfg *config.Config, b *bus.MessageBus) (channels.Channel, error) {
		return NewWhatsAppChannel(cfg.Channels.WhatsApp, b)
	})
}
