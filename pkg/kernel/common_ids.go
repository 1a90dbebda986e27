package kernel

import "strings"

type UserID string

func NewUserID(id string) UserID { return UserID(id) }
func (u UserID) String() string  { return string(u) }
func (u UserID) IsEmpty() bool   { return string(u) == "" }

type TenantID string

func NewTenantID(id string) TenantID { return TenantID(id) }
func (t TenantID) String() string    { return string(t) }
func (t TenantID) IsEmpty() bool     { return string(t) == "" }

// OwnerID identifies the principal that owns a resource: a user inside a tenant.
type OwnerID string

// OwnerSeparator joins the tenant and user halves of an OwnerID.
const OwnerSeparator = "/"

// NewOwnerID scopes a user to its tenant. Users with the same id in two
// tenants are distinct owners. Both halves must pass ValidOwnerPart for the
// result to be unambiguous.
func NewOwnerID(tenantID TenantID, userID UserID) OwnerID {
	if tenantID.IsEmpty() {
		return OwnerID(userID)
	}
	return OwnerID(tenantID.String() + OwnerSeparator + userID.String())
}

// ValidOwnerPart reports whether s can be the tenant or user half of an
// OwnerID. An OwnerID is also a storage prefix, so "." and ".." are refused
// along with the separator.
func ValidOwnerPart(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.Contains(s, OwnerSeparator)
}

func (o OwnerID) String() string { return string(o) }
func (o OwnerID) IsEmpty() bool  { return string(o) == "" }
