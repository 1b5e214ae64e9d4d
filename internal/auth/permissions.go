package auth

const (
	RoleSystemAdmin        = "SYSTEM_ADMIN"
	RoleInstitutionManager = "INSTITUTION_MANAGER"
	RoleCoordinator        = "COORDINATOR"
	RoleTeacher            = "TEACHER"
	RoleStudent            = "STUDENT"
	RoleGuardian           = "GUARDIAN"
)

const (
	PermUsersRead         = "users.read"
	PermUsersWrite        = "users.write"
	PermInstitutionsRead  = "institutions.read"
	PermInstitutionsWrite = "institutions.write"
	PermRolesManage       = "roles.manage"
	PermGroupsRead        = "groups.read"
	PermGroupsWrite       = "groups.write"
	PermNotificationsRead = "notifications.read"
	PermNotificationsSend = "notifications.send"
	PermCertificatesRead  = "certificates.read"
	PermCertificatesIssue = "certificates.issue"
	PermBooksRead         = "books.read"
	PermBooksWrite        = "books.write"
	PermSettingsManage    = "settings.manage"
)

var BuiltinPermissions = []Permission{
	{Key: PermUsersRead, Description: "List and view users"},
	{Key: PermUsersWrite, Description: "Create, update and disable users"},
	{Key: PermInstitutionsRead, Description: "View institutions"},
	{Key: PermInstitutionsWrite, Description: "Create and update institutions"},
	{Key: PermRolesManage, Description: "Manage roles and their permissions"},
	{Key: PermGroupsRead, Description: "View groups"},
	{Key: PermGroupsWrite, Description: "Create and update groups"},
	{Key: PermNotificationsRead, Description: "Read notifications"},
	{Key: PermNotificationsSend, Description: "Send notifications"},
	{Key: PermCertificatesRead, Description: "View certificates"},
	{Key: PermCertificatesIssue, Description: "Issue certificates"},
	{Key: PermBooksRead, Description: "View books"},
	{Key: PermBooksWrite, Description: "Manage books"},
	{Key: PermSettingsManage, Description: "Change portal settings"},
}
