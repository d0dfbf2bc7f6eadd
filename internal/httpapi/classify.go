package httpapi

import "regexp"

// RouteClass is the access tier a (method, path) pair is labeled with.
type RouteClass string

const (
	ClassPublic        RouteClass = "public"
	ClassAuthenticated RouteClass = "authenticated"
	ClassTenantScoped  RouteClass = "tenant_scoped"
	ClassAdminScoped   RouteClass = "admin_scoped"
)

var publicExact = map[string]bool{
	"GET /healthz": true,
	"GET /v1/status": true,
}

var adminPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/v1/admin/`),
	regexp.MustCompile(`^/v1/diagnostics$`),
}

var tenantPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^/v1/delegations`),
	regexp.MustCompile(`^/v1/leases`),
	regexp.MustCompile(`^/v1/installs`),
	regexp.MustCompile(`^/v1/quotas`),
}

// Classify is a pure function labeling a (method, path) pair.
func Classify(method, path string) RouteClass {
	if publicExact[method+" "+path] {
		return ClassPublic
	}
	for _, re := range adminPatterns {
		if re.MatchString(path) {
			return ClassAdminScoped
		}
	}
	for _, re := range tenantPatterns {
		if re.MatchString(path) {
			return ClassTenantScoped
		}
	}
	if len(path) >= 4 && path[:4] == "/v1/" {
		return ClassAuthenticated
	}
	return ClassPublic
}
