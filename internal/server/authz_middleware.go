package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentlease/leaseguard/internal/routing"
	"github.com/agentlease/leaseguard/pkg/authz"
)

func loadAuthorizer() (*authz.Authorizer, error) {
	modelPath := os.Getenv("AUTHZ_MODEL_PATH")
	if modelPath == "" {
		p, err := defaultAuthzPath("model.conf")
		if err != nil {
			return nil, err
		}
		modelPath = p
	}

	policyPath := os.Getenv("AUTHZ_POLICY_PATH")
	if policyPath == "" {
		p, err := defaultAuthzPath("policy.csv")
		if err != nil {
			return nil, err
		}
		policyPath = p
	}

	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}
	return authz.NewAuthorizer(modelPath, policyPath, mode)
}

func defaultAuthzPath(name string) (string, error) {
	path := filepath.Join("config", "access", name)
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("server: authz " + name + " not found")
}

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

// withAuthz gates the admin control plane behind the casbin policy.
// The public API authorizes by address inside the domain services; the
// role header only matters for admin routes.
func withAuthz(classifier *routing.Classifier, a authorizer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		rc := classifier.Classify(path)

		object, action, shouldCheck := authzRequirementForRoute(r.Method, path)
		if !shouldCheck {
			next.ServeHTTP(w, r)
			return
		}

		subject := authz.SubjectFromRoleSlug(r.Header.Get("X-Role"))
		allowed, enforced, err := a.Authorize(subject, authz.DomainGlobal, object, action)
		if err != nil {
			routing.WriteError(w, r, rc, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if enforced && !allowed {
			routing.WriteError(w, r, rc, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func authzRequirementForRoute(method string, path string) (object string, action string, ok bool) {
	if !strings.HasPrefix(path, "/admin/api/") {
		return "", "", false
	}
	switch path {
	case "/admin/api/plugins":
		if method == http.MethodGet {
			return authz.ObjectPolicyPlugins, authz.ActionRead, true
		}
	case "/admin/api/plugins/approve", "/admin/api/plugins/revoke":
		if method == http.MethodPost {
			return authz.ObjectPolicyPlugins, authz.ActionAdmin, true
		}
	case "/admin/api/templates":
		if method == http.MethodPost {
			return authz.ObjectPolicyTemplates, authz.ActionAdmin, true
		}
	}
	// Unknown admin routes stay gated rather than open.
	return authz.ObjectPolicyPlugins, authz.ActionAdmin, true
}
