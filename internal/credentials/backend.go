package credentials

import "context"

// Backend is the narrow contract against the external credential/record
// service. Validate is a cheap identity round-trip; Create and Revoke exist
// for rotation. No particular transport is assumed.
type Backend interface {
	Validate(ctx context.Context, material string) error
	CreateCredential(ctx context.Context, tier Tier) (id, material string, err error)
	RevokeCredential(ctx context.Context, id string) error
}
