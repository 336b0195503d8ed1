//go:build !whatsapp_native

package whatsapp

import (
	"fmt"

	"github.com/lattice-run/lattice/pkg/bus"
	"github.com/lattice-run/lattice/pkg/channels"
	"github.com/lattice-run/lattice/pkg/config"
)

// NewWhatsAppNativeChannel returns an error when the binary was not built with -tags whatsapp_native.
// Build with: go build -tags whatsapp_native ./cmd/...
func NewWhatsAppNativeChannel(
	cfg config.WhatsAppConfig,
	bus *bus.MessageBus,
	storePath string,
) (channels.Channel, error) {
	return nil, fmt.Errorf("whatsapp native not compiled in; build with -tags whatsapp_native")
}
