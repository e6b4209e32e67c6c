package plugin

import "sort"

// Permission names a capability a plugin may request in its manifest.
// The set of grantable permissions is closed: manifests declaring anything
// outside it are rejected at validation, and there is no runtime registration
// of new permissions.
type Permission string

// The permission registry.
const (
	PermFileRead         Permission = "file-read"
	PermFileWrite        Permission = "file-write"
	PermNetworkAccess    Permission = "network-access"
	PermDatabaseRead     Permission = "database-read"
	PermDatabaseWrite    Permission = "database-write"
	PermUIModify         Permission = "ui-modify"
	PermAPIEndpoints     Permission = "api-endpoints"
	PermSystemSettings   Permission = "system-settings"
	PermUserDataAccess   Permission = "user-data-access"
	PermPluginManagement Permission = "plugin-management"
	PermModelAccess      Permission = "model-access"
	PermWorkspaceAccess  Permission = "workspace-access"
)

var allowedPermissions = map[Permission]struct{}{
	PermFileRead:         {},
	PermFileWrite:        {},
	PermNetworkAccess:    {},
	PermDatabaseRead:     {},
	PermDatabaseWrite:    {},
	PermUIModify:         {},
	PermAPIEndpoints:     {},
	PermSystemSettings:   {},
	PermUserDataAccess:   {},
	PermPluginManagement: {},
	PermModelAccess:      {},
	PermWorkspaceAccess:  {},
}

// Known reports whether p is in the permission registry.
func (p Permission) Known() bool {
	_, ok := allowedPermissions[p]
	return ok
}

// AllPermissions returns the permission registry in sorted order.
func AllPermissions() []Permission {
	perms := make([]Permission, 0, len(allowedPermissions))
	for p := range allowedPermissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms
}
