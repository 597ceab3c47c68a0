package permission

// Marketplace roles.
const (
	RoleBusinessOwner = "business_owner"
	RoleStaff         = "staff"
	RoleCustomer      = "customer"
)

// Marketplace permission tags.
const (
	StallCreate      = "stall:create"
	StallUpdate      = "stall:update"
	StallDelete      = "stall:delete"
	ProductManage    = "product:manage"
	OrderRead        = "order:read"
	OrderFulfil      = "order:fulfil"
	UsersInvite      = "users:invite"
	UsersSuspend     = "users:suspend"
	UsersRoleUpdate  = "users:role:update"
	WebhooksManage   = "webhooks:manage"
	BusinessSettings = "business:settings"
)

// Catalog returns a frozen registry holding every marketplace tag.
func Catalog() *Registry {
	reg := NewRegistry()
	for _, name := range []string{
		StallCreate, StallUpdate, StallDelete,
		ProductManage,
		OrderRead, OrderFulfil,
		UsersInvite, UsersSuspend, UsersRoleUpdate,
		WebhooksManage, BusinessSettings,
	} {
		// names are unique constants
		_ = reg.Register(name)
	}
	reg.Freeze()
	return reg
}

// DefaultBindings returns the bindings seeded for a newly created business.
func DefaultBindings() Bindings {
	b := Bindings{}
	b.Grant(RoleBusinessOwner,
		StallCreate, StallUpdate, StallDelete,
		ProductManage,
		OrderRead, OrderFulfil,
		UsersInvite, UsersSuspend, UsersRoleUpdate,
		WebhooksManage, BusinessSettings,
	)
	b.Grant(RoleStaff, StallUpdate, ProductManage, OrderRead, OrderFulfil)
	b.Grant(RoleCustomer, OrderRead)
	return b
}
