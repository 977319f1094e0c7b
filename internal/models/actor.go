package models

// Capability names an action a staff member may perform.
type Capability string

const (
	CapTenderView       Capability = "tender:view"
	CapTenderIntake     Capability = "tender:intake"
	CapTenderPromote    Capability = "tender:promote"
	CapDirectorDecision Capability = "tender:decide"
	CapTenderCancel     Capability = "tender:cancel"
	CapDossierManage    Capability = "dossier:manage"
	CapImport           Capability = "import:run"
	CapDocuments        Capability = "documents:manage"
)

var roleCapabilities = map[UserRole][]Capability{
	RoleSuperAdmin: {
		CapTenderView, CapTenderIntake, CapTenderPromote, CapDirectorDecision,
		CapTenderCancel, CapDossierManage, CapImport, CapDocuments,
	},
	RoleAdmin: {
		CapTenderView, CapTenderIntake, CapTenderPromote, CapTenderCancel,
		CapDossierManage, CapImport, CapDocuments,
	},
	RoleDirection:         {CapTenderView, CapDirectorDecision, CapTenderCancel, CapDocuments},
	RoleDirectionGenerale: {CapTenderView, CapDirectorDecision, CapTenderCancel, CapDocuments},
	RoleEtudesTechniques:  {CapTenderView, CapDossierManage, CapDocuments},
	RoleMarchesMarketing:  {CapTenderView, CapTenderIntake, CapTenderPromote, CapImport, CapDocuments},
}

// Actor is the authenticated caller handed to every service operation.
type Actor struct {
	UserID   string
	Role     UserRole
	FullName string
	IP       string
}

// Can reports whether the actor's role grants capability.
func (a *Actor) Can(capability Capability) bool {
	if a == nil {
		return false
	}
	for _, c := range roleCapabilities[a.Role] {
		if c == capability {
			return true
		}
	}
	return false
}

// RolesWith lists the roles granting capability.
func RolesWith(capability Capability) []UserRole {
	roles := make([]UserRole, 0, len(roleCapabilities))
	for _, role := range []UserRole{RoleSuperAdmin, RoleAdmin, RoleDirection, RoleDirectionGenerale, RoleEtudesTechniques, RoleMarchesMarketing} {
		actor := Actor{Role: role}
		if actor.Can(capability) {
			roles = append(roles, role)
		}
	}
	return roles
}
