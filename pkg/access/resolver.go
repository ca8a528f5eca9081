// Package access maps API keys to the set of VMs a caller may touch. The
// permission mode is decided once, when the registry is loaded, and every
// authorization failure renders the same generic message regardless of its
// actual cause.
package access

import (
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/wentf9/xops-mcp/internal/errors"
	"github.com/wentf9/xops-mcp/pkg/config"
)

// Mode is the process-lifetime permission state.
type Mode int

const (
	// ModeDisabled grants every registered VM without credentials. Active
	// when the registry declares no users.
	ModeDisabled Mode = iota
	// ModeEnabled requires a valid API key resolving to a non-empty VM set.
	ModeEnabled
)

func (m Mode) String() string {
	if m == ModeEnabled {
		return "enabled"
	}
	return "disabled"
}

// Resolver answers authorization questions against one loaded registry.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	mode   Mode
	reg    *config.Registry
	grants map[string][]string // api_key -> effective VM names
	users  map[string]string   // api_key -> user name
}

// NewResolver indexes the registry's users and fixes the permission mode:
// enabled iff at least one user is declared.
func NewResolver(reg *config.Registry) *Resolver {
	r := &Resolver{
		mode:   ModeDisabled,
		reg:    reg,
		grants: make(map[string][]string, len(reg.Users)),
		users:  make(map[string]string, len(reg.Users)),
	}
	if len(reg.Users) == 0 {
		if len(reg.Groups) > 0 {
			log.Warn().Msg("registry declares groups but no users; permissions stay disabled")
		}
		return r
	}

	r.mode = ModeEnabled
	for i := range reg.Users {
		u := &reg.Users[i]
		r.grants[u.APIKey] = effectiveVMs(reg, u)
		r.users[u.APIKey] = u.Name
	}
	return r
}

// effectiveVMs is the union of the user's groups' members, deduplicated,
// in group declaration order.
func effectiveVMs(reg *config.Registry, u *config.User) []string {
	var vms []string
	seen := make(map[string]bool)
	for _, groupName := range u.Groups {
		g, ok := reg.Group(groupName)
		if !ok {
			continue // cannot happen after registry validation
		}
		for _, name := range g.VMs {
			if !seen[name] {
				seen[name] = true
				vms = append(vms, name)
			}
		}
	}
	return vms
}

// Mode reports the permission state decided at load time.
func (r *Resolver) Mode() Mode {
	return r.mode
}

// Resolve maps an API key to the VM names it is authorized for. In disabled
// mode every registered VM is returned and the key is ignored.
func (r *Resolver) Resolve(apiKey string) ([]string, error) {
	if r.mode == ModeDisabled {
		return r.reg.VMNames(), nil
	}
	vms, reason := r.grantFor(apiKey)
	if reason != "" {
		return nil, errors.NewAuthError(reason, "")
	}
	return slices.Clone(vms), nil
}

// Authorize returns the VM definition iff vmName is inside the key's
// authorized set. Any failure, including a VM name that does not exist at
// all, comes back as the one generic authorization error.
func (r *Resolver) Authorize(apiKey, vmName string) (*config.VM, error) {
	if r.mode == ModeEnabled {
		vms, reason := r.grantFor(apiKey)
		if reason != "" {
			return nil, errors.NewAuthError(reason, vmName)
		}
		if !slices.Contains(vms, vmName) {
			return nil, errors.NewAuthError(errors.DenyVMNotGranted, vmName)
		}
	}
	vm, ok := r.reg.VM(vmName)
	if !ok {
		return nil, errors.NewAuthError(errors.DenyVMNotGranted, vmName)
	}
	return vm, nil
}

// Requester reports the configured user name behind an API key, empty in
// disabled mode or for unknown keys. Audit metadata only, never an
// authorization decision.
func (r *Resolver) Requester(apiKey string) string {
	return r.users[apiKey]
}

func (r *Resolver) grantFor(apiKey string) ([]string, errors.DenyReason) {
	if apiKey == "" {
		return nil, errors.DenyMissingKey
	}
	vms, ok := r.grants[apiKey]
	if !ok {
		return nil, errors.DenyUnknownKey
	}
	if len(vms) == 0 {
		return nil, errors.DenyEmptyGrant
	}
	return vms, ""
}
