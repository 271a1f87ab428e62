package artworkmodule

import (
	"github.com/mantonx/viewra-artwork/internal/modules/modulemanager"
)

// Auto-register the module when imported
func init() {
	Register()
}

// Register registers the artwork module with the module system
func Register() {
	modulemanager.Register(NewModule(nil, nil))
}
