package refresh

import (
	"fmt"
	"strconv"

	"tenant-auth/internal/apperr"
)

// OwnerKind says which kind of identity owns a refresh token.
type OwnerKind string

const (
	OwnerSuperAdmin OwnerKind = "SUPER_ADMIN"
	OwnerClient     OwnerKind = "CLIENT"
	OwnerUser       OwnerKind = "USER"
)

// Owner identifies exactly one identity.
type Owner struct {
	Kind OwnerKind
	ID   int64
}

var ErrNoOwner = apperr.New(apperr.KindInternal, "refresh token has no valid owner")

func (o Owner) Validate() error {
	switch o.Kind {
	case OwnerSuperAdmin, OwnerClient, OwnerUser:
		return nil
	default:
		return ErrNoOwner.With(fmt.Errorf("owner kind %q", o.Kind))
	}
}

func (o Owner) String() string {
	return string(o.Kind) + ":" + strconv.FormatInt(o.ID, 10)
}
