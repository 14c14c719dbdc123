package storage

import (
	"errors"

	"github.com/threadcart/api/internal/platform/auth"
)

// ErrPermissionDenied is returned when the caller may not access the
// requested object.
var ErrPermissionDenied = errors.New("storage: permission denied")

// AuthorizeDownload decides whether identity may fetch an object owned
// by ownerID. Owners, moderators, and admins pass; everyone else is
// denied unless the object is public.
func AuthorizeDownload(identity *auth.Identity, ownerID string, allowAnonymous bool) error {
	if allowAnonymous {
		return nil
	}
	if identity == nil {
		return ErrPermissionDenied
	}
	if ownerID != "" && identity.UID == ownerID {
		return nil
	}
	if identity.HasAnyRole(auth.RoleModerator, auth.RoleAdmin) {
		return nil
	}
	return ErrPermissionDenied
}
