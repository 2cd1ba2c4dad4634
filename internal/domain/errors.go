package domain

import "errors"

var (
	// ErrNotFound is returned by store lookups that matched nothing.
	ErrNotFound = errors.New("not found")

	// ErrNotConnected means no usable credential exists for the provider;
	// the user has to connect (or reconnect) the integration first.
	ErrNotConnected = errors.New("integration not connected")

	// ErrUnauthorized marks an upstream 401/403; the token lifecycle manager
	// reacts to it with a single refresh-and-retry.
	ErrUnauthorized = errors.New("unauthorized by provider")

	// ErrRefreshTokenMissing means the access token expired and there is no
	// refresh token to rotate it with.
	ErrRefreshTokenMissing = errors.New("refresh token missing")

	// ErrReauthRequired is terminal: refresh was attempted and rejected, the
	// user must go through the OAuth flow again.
	ErrReauthRequired = errors.New("reauthorization required")
)
