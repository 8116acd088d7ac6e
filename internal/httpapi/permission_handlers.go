package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"promanage.org/internal/audit"
	"promanage.org/internal/authz"
)

type assignPermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

type assignRolesRequest struct {
	RoleIDs []int64 `json:"role_ids"`
}

// handleOrganizationScoped routes the tenant-scoped surface:
//
//	/organizations/{orgID}/permissions            GET, POST
//	/organizations/{orgID}/permissions/tree       GET
//	/organizations/{orgID}/permissions/{id}       GET, PUT, DELETE
//	/organizations/{orgID}/roles                  GET
//	/organizations/{orgID}/roles/{id}/permissions GET, PUT
//	/organizations/{orgID}/users/{id}/roles       PUT
func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/organizations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	orgID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || orgID < 0 {
		writeError(w, r, http.StatusBadRequest, "invalid organization id")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "permissions":
		a.handlePermissionsCollection(w, r, orgID)
	case len(parts) == 3 && parts[1] == "permissions" && parts[2] == "tree":
		a.handlePermissionTree(w, r, orgID)
	case len(parts) == 3 && parts[1] == "permissions":
		id, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid permission id")
			return
		}
		a.handlePermissionResource(w, r, orgID, id)
	case len(parts) == 2 && parts[1] == "roles":
		a.handleRolesCollection(w, r, orgID)
	case len(parts) == 4 && parts[1] == "roles" && parts[3] == "permissions":
		roleID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid role id")
			return
		}
		a.handleRolePermissions(w, r, orgID, roleID)
	case len(parts) == 4 && parts[1] == "users" && parts[3] == "roles":
		userID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid user id")
			return
		}
		a.handleUserRoles(w, r, orgID, userID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handlePermissionsCollection(w http.ResponseWriter, r *http.Request, orgID int64) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		perms, err := a.perms.List(r.Context(), p.UserID, orgID)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	case http.MethodPost:
		var in authz.PermissionInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.perms.Create(r.Context(), p.UserID, orgID, in)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		a.auditEvent(r, "authz.permission.create", map[string]any{
			"organization_id": orgID,
			"permission_id":   perm.ID,
			"code":            perm.Code,
		})
		w.Header().Set("Location", r.URL.Path+"/"+strconv.FormatInt(perm.ID, 10))
		writeJSON(w, http.StatusCreated, perm)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissionTree(w http.ResponseWriter, r *http.Request, orgID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	forest, err := a.perms.Tree(r.Context(), p.UserID, orgID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": forest})
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request, orgID, id int64) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		perm, err := a.perms.Get(r.Context(), p.UserID, orgID, id)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, perm)
	case http.MethodPut:
		var in authz.PermissionInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.perms.Update(r.Context(), p.UserID, orgID, id, in)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		a.auditEvent(r, "authz.permission.update", map[string]any{
			"organization_id": orgID,
			"permission_id":   id,
		})
		writeJSON(w, http.StatusOK, perm)
	case http.MethodDelete:
		if err := a.perms.Delete(r.Context(), p.UserID, orgID, id); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		a.auditEvent(r, "authz.permission.delete", map[string]any{
			"organization_id": orgID,
			"permission_id":   id,
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request, orgID int64) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	roles, err := a.roles.Roles(r.Context(), p.UserID, orgID)
	if err != nil {
		handleAuthzError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": roles})
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request, orgID, roleID int64) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		perms, err := a.roles.Permissions(r.Context(), p.UserID, orgID, roleID)
		if err != nil {
			handleAuthzError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": perms})
	case http.MethodPut:
		var req assignPermissionsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.roles.AssignPermissions(r.Context(), p.UserID, orgID, roleID, req.PermissionIDs); err != nil {
			handleAuthzError(w, r, err)
			return
		}
		a.auditEvent(r, "authz.role.permissions.replace", map[string]any{
			"organization_id": orgID,
			"role_id":         roleID,
			"count":           len(req.PermissionIDs),
		})
		writeJSON(w, http.StatusOK, map[string]any{"status": "assigned"})
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, orgID, userID int64) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req assignRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.resolver.AssignRoles(r.Context(), p.UserID, orgID, userID, req.RoleIDs); err != nil {
		handleAuthzError(w, r, err)
		return
	}
	a.auditEvent(r, "authz.user.roles.replace", map[string]any{
		"organization_id": orgID,
		"user_id":         userID,
		"count":           len(req.RoleIDs),
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "assigned"})
}

func (a *API) auditEvent(r *http.Request, event string, fields map[string]any) {
	_ = audit.LogEvent(r.Context(), event, fields)
}
