package config

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultSSHPort is applied to VMs that do not declare a port.
const DefaultSSHPort = 22

// VM is one registered remote host. Definitions are immutable after load and
// owned exclusively by the Registry.
type VM struct {
	Name       string `yaml:"name"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port,omitempty"`
	User       string `yaml:"user"`
	Key        string `yaml:"key,omitempty"`        // inline private key material
	KeyPath    string `yaml:"key_path,omitempty"`   // path to a private key file
	Passphrase string `yaml:"passphrase,omitempty"` // for encrypted keys
	Password   string `yaml:"password,omitempty"`   // optional fallback auth
}

// Addr returns the dialable host:port address.
func (v *VM) Addr() string {
	return net.JoinHostPort(v.Host, strconv.Itoa(v.Port))
}

// Group is a named set of VMs used to grant collective access.
type Group struct {
	Name string   `yaml:"name"`
	VMs  []string `yaml:"vms"`
}

// User is a principal holding a secret API key and a set of group names.
type User struct {
	Name   string   `yaml:"name"`
	APIKey string   `yaml:"api_key"`
	Groups []string `yaml:"groups"`
}

// Registry owns the VM/Group/User definitions for the process lifetime.
// Dangling references between the three collections are load errors, so
// lookups at request time cannot fail on a reference that validated.
type Registry struct {
	VMs    []VM    `yaml:"vms"`
	Groups []Group `yaml:"groups"`
	Users  []User  `yaml:"users"`

	vmIndex    map[string]*VM
	groupIndex map[string]*Group
}

// VM looks up a VM definition by name.
func (r *Registry) VM(name string) (*VM, bool) {
	vm, ok := r.vmIndex[name]
	return vm, ok
}

// Group looks up a group definition by name.
func (r *Registry) Group(name string) (*Group, bool) {
	g, ok := r.groupIndex[name]
	return g, ok
}

// VMNames returns every VM name in declaration order.
func (r *Registry) VMNames() []string {
	names := make([]string, 0, len(r.VMs))
	for i := range r.VMs {
		names = append(names, r.VMs[i].Name)
	}
	return names
}

// Validate applies defaults, builds the lookup indexes and rejects malformed
// or dangling definitions. Store.Load calls it; callers constructing a
// Registry in code must call it before use.
func (r *Registry) Validate() error {
	r.vmIndex = make(map[string]*VM, len(r.VMs))
	for i := range r.VMs {
		vm := &r.VMs[i]
		if vm.Name == "" {
			return fmt.Errorf("vm #%d: name is required", i)
		}
		if vm.Host == "" {
			return fmt.Errorf("vm %q: host is required", vm.Name)
		}
		if vm.User == "" {
			return fmt.Errorf("vm %q: user is required", vm.Name)
		}
		if vm.Key == "" && vm.KeyPath == "" && vm.Password == "" {
			return fmt.Errorf("vm %q: one of key, key_path or password is required", vm.Name)
		}
		if vm.Port == 0 {
			vm.Port = DefaultSSHPort
		}
		if vm.Port < 1 || vm.Port > 65535 {
			return fmt.Errorf("vm %q: port %d out of range", vm.Name, vm.Port)
		}
		if _, dup := r.vmIndex[vm.Name]; dup {
			return fmt.Errorf("vm %q: duplicate name", vm.Name)
		}
		r.vmIndex[vm.Name] = vm
	}

	r.groupIndex = make(map[string]*Group, len(r.Groups))
	for i := range r.Groups {
		g := &r.Groups[i]
		if g.Name == "" {
			return fmt.Errorf("group #%d: name is required", i)
		}
		if _, dup := r.groupIndex[g.Name]; dup {
			return fmt.Errorf("group %q: duplicate name", g.Name)
		}
		for _, name := range g.VMs {
			if _, ok := r.vmIndex[name]; !ok {
				return fmt.Errorf("group %q: unknown vm %q", g.Name, name)
			}
		}
		r.groupIndex[g.Name] = g
	}

	seenUsers := make(map[string]bool, len(r.Users))
	seenKeys := make(map[string]string, len(r.Users))
	for i := range r.Users {
		u := &r.Users[i]
		if u.Name == "" {
			return fmt.Errorf("user #%d: name is required", i)
		}
		if u.APIKey == "" {
			return fmt.Errorf("user %q: api_key is required", u.Name)
		}
		if seenUsers[u.Name] {
			return fmt.Errorf("user %q: duplicate name", u.Name)
		}
		seenUsers[u.Name] = true
		if other, dup := seenKeys[u.APIKey]; dup {
			return fmt.Errorf("user %q: api_key already used by user %q", u.Name, other)
		}
		seenKeys[u.APIKey] = u.Name
		for _, name := range u.Groups {
			if _, ok := r.groupIndex[name]; !ok {
				return fmt.Errorf("user %q: unknown group %q", u.Name, name)
			}
		}
	}
	return nil
}
