package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probelab/delver/pkg/config"
	"github.com/probelab/delver/pkg/faults"
)

func TestRolePermissions(t *testing.T) {
	tests := []struct {
		role  Role
		read  bool
		write bool
		admin bool
	}{
		{RoleViewer, true, false, false},
		{RoleOperator, true, true, false},
		{RoleAdmin, true, true, true},
		{Role("intern"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			p := &Principal{Name: "test", Role: tt.role}
			assert.Equal(t, tt.read, p.Can(PermResearchRead))
			assert.Equal(t, tt.write, p.Can(PermResearchWrite))
			assert.Equal(t, tt.admin, p.Can(PermAdminAccess))
		})
	}
}

func TestPrincipalCan_NilPrincipal(t *testing.T) {
	var p *Principal
	assert.False(t, p.Can(PermResearchRead))
}

func TestRoleIsValid(t *testing.T) {
	assert.True(t, RoleViewer.IsValid())
	assert.True(t, RoleOperator.IsValid())
	assert.True(t, RoleAdmin.IsValid())
	assert.False(t, Role("root").IsValid())
}

func TestParseStaticKeys(t *testing.T) {
	store, err := ParseStaticKeys(" k-ops-0001=operator, k-dash-0002=viewer ,k-root-0003=admin,")
	require.NoError(t, err)
	assert.Equal(t, 3, store.Len())

	p, ok := store.Lookup(context.Background(), "k-ops-0001")
	require.True(t, ok)
	assert.Equal(t, RoleOperator, p.Role)
	assert.Equal(t, "key-0001", p.Name)

	_, ok = store.Lookup(context.Background(), "unknown")
	assert.False(t, ok)
}

func TestParseStaticKeys_Empty(t *testing.T) {
	store, err := ParseStaticKeys("")
	require.NoError(t, err)
	assert.Zero(t, store.Len())
}

func TestParseStaticKeys_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no role", "justakey"},
		{"empty key", "=viewer"},
		{"empty role", "key="},
		{"unknown role", "key=root"},
		{"duplicate key", "key=viewer,key=admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseStaticKeys(tt.raw)
			require.Error(t, err)
			assert.True(t, faults.IsKind(err, faults.KindConfiguration))
		})
	}
}

func TestStaticKeys_LookupReturnsCopy(t *testing.T) {
	store, err := ParseStaticKeys("k-dash-0002=viewer")
	require.NoError(t, err)

	p, ok := store.Lookup(context.Background(), "k-dash-0002")
	require.True(t, ok)
	p.Role = RoleAdmin

	again, ok := store.Lookup(context.Background(), "k-dash-0002")
	require.True(t, ok)
	assert.Equal(t, RoleViewer, again.Role)
}

func TestKeyGate_Authenticate(t *testing.T) {
	store, err := ParseStaticKeys("k-ops-0001=operator")
	require.NoError(t, err)
	gate := NewKeyGate(store)

	p, err := gate.Authenticate(context.Background(), "k-ops-0001")
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, p.Role)

	_, err = gate.Authenticate(context.Background(), "")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindAuthentication))

	_, err = gate.Authenticate(context.Background(), "wrong")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindAuthentication))
}

func TestKeyGate_Authorize(t *testing.T) {
	gate := NewKeyGate(&StaticKeys{})

	assert.True(t, gate.Authorize(&Principal{Role: RoleViewer}, PermResearchRead))
	assert.False(t, gate.Authorize(&Principal{Role: RoleViewer}, PermResearchWrite))
	assert.False(t, gate.Authorize(nil, PermResearchRead))
}

func TestOpenGate(t *testing.T) {
	gate := OpenGate{}

	p, err := gate.Authenticate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "anonymous", p.Name)
	assert.True(t, gate.Authorize(p, PermAdminAccess))
	assert.True(t, gate.Authorize(nil, PermAdminAccess))
}

func TestFromEnv(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.APIKeysEnv = "DELVER_TEST_API_KEYS"

	t.Setenv("DELVER_TEST_API_KEYS", "k-ops-0001=operator")
	gate, err := FromEnv(cfg)
	require.NoError(t, err)
	p, err := gate.Authenticate(context.Background(), "k-ops-0001")
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, p.Role)
}

func TestFromEnv_NoKeys(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.APIKeysEnv = "DELVER_TEST_API_KEYS"
	t.Setenv("DELVER_TEST_API_KEYS", "")

	cfg.Environment = config.EnvDevelopment
	gate, err := FromEnv(cfg)
	require.NoError(t, err)
	assert.IsType(t, OpenGate{}, gate)

	cfg.Environment = config.EnvProduction
	_, err = FromEnv(cfg)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindConfiguration))
}

func TestFromEnv_Malformed(t *testing.T) {
	cfg := config.DefaultServerConfig()
	cfg.APIKeysEnv = "DELVER_TEST_API_KEYS"
	t.Setenv("DELVER_TEST_API_KEYS", "key=root")

	_, err := FromEnv(cfg)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindConfiguration))
}
