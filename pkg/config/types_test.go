package config

import (
	"strings"
	"testing"
)

func validRegistry() *Registry {
	return &Registry{
		VMs: []VM{
			{Name: "web-01", Host: "10.0.0.5", User: "deploy", KeyPath: "/keys/web"},
			{Name: "db-01", Host: "10.0.0.6", Port: 2222, User: "postgres", Password: "pw"},
		},
		Groups: []Group{
			{Name: "web", VMs: []string{"web-01"}},
			{Name: "all", VMs: []string{"web-01", "db-01"}},
		},
		Users: []User{
			{Name: "alice", APIKey: "alice-secret", Groups: []string{"web"}},
			{Name: "bob", APIKey: "bob-secret", Groups: []string{"all"}},
		},
	}
}

func TestValidateAppliesPortDefault(t *testing.T) {
	reg := validRegistry()
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	vm, ok := reg.VM("web-01")
	if !ok {
		t.Fatal("web-01 not indexed")
	}
	if vm.Port != DefaultSSHPort {
		t.Errorf("port = %d, want %d", vm.Port, DefaultSSHPort)
	}
	if got := vm.Addr(); got != "10.0.0.5:22" {
		t.Errorf("Addr() = %q, want %q", got, "10.0.0.5:22")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Registry)
		wantErr string
	}{
		{
			"missing vm name",
			func(r *Registry) { r.VMs[0].Name = "" },
			"name is required",
		},
		{
			"missing host",
			func(r *Registry) { r.VMs[0].Host = "" },
			"host is required",
		},
		{
			"missing user",
			func(r *Registry) { r.VMs[0].User = "" },
			"user is required",
		},
		{
			"missing credential",
			func(r *Registry) { r.VMs[0].KeyPath = "" },
			"one of key, key_path or password",
		},
		{
			"port out of range",
			func(r *Registry) { r.VMs[1].Port = 70000 },
			"out of range",
		},
		{
			"duplicate vm name",
			func(r *Registry) { r.VMs[1].Name = "web-01" },
			"duplicate name",
		},
		{
			"group references unknown vm",
			func(r *Registry) { r.Groups[0].VMs = []string{"ghost"} },
			`unknown vm "ghost"`,
		},
		{
			"duplicate group name",
			func(r *Registry) { r.Groups[1].Name = "web" },
			"duplicate name",
		},
		{
			"user references unknown group",
			func(r *Registry) { r.Users[0].Groups = []string{"ops"} },
			`unknown group "ops"`,
		},
		{
			"duplicate user name",
			func(r *Registry) { r.Users[1].Name = "alice" },
			"duplicate name",
		},
		{
			"duplicate api key",
			func(r *Registry) { r.Users[1].APIKey = "alice-secret" },
			"already used",
		},
		{
			"user without api key",
			func(r *Registry) { r.Users[0].APIKey = "" },
			"api_key is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := validRegistry()
			tt.mutate(reg)
			err := reg.Validate()
			if err == nil {
				t.Fatal("validate succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestVMNamesDeclarationOrder(t *testing.T) {
	reg := validRegistry()
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	names := reg.VMNames()
	want := []string{"web-01", "db-01"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
}

func TestEmptyRegistryIsValid(t *testing.T) {
	reg := &Registry{}
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate empty registry: %v", err)
	}
	if len(reg.VMNames()) != 0 {
		t.Error("empty registry should expose no VM names")
	}
}
