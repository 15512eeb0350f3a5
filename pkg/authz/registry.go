package authz

const (
	RolePlatformAdmin = "platform-admin"
	RoleAnonymous     = "anonymous"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionAdmin = "admin"
)

const DomainGlobal = "global"

const (
	ObjectPolicyPlugins    = "policy.plugins"
	ObjectPolicyConfig     = "policy.config"
	ObjectPolicyTemplates  = "policy.templates"
	ObjectRentalEntities   = "rental.entities"
	ObjectRentalLifecycle  = "rental.lifecycle"
	ObjectRentalExecute    = "rental.execute"
	ObjectRentalDelegation = "rental.delegation"
	ObjectVaultFunds       = "vault.funds"
)
