package ldapauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/isometry/ldapauth/internal/directory"
)

// Directory is the external directory service contract used by the pipeline.
type Directory interface {
	// LookupDN resolves a login value to the distinguished name of exactly
	// one directory entry. ErrNotFound when zero or multiple entries match.
	LookupDN(ctx context.Context, loginValue string) (string, error)

	// Bind attempts to authenticate as the given DN. Invalid credentials
	// yield (false, nil); transport failures are returned as errors.
	Bind(ctx context.Context, dn, secret string) (bool, error)

	// SearchAttributes returns the named attributes (all attributes when the
	// list is empty) of the entry matching the login value, as attribute
	// name to ordered values.
	SearchAttributes(ctx context.Context, loginValue string, attrs []string) (map[string][]string, error)
}

// DirectoryConn is a Directory with an owned connection lifecycle.
type DirectoryConn interface {
	Directory
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the directory described by the configuration and returns
// a pooled Directory. The caller owns the returned connection and must close
// it when done.
func Open(ctx context.Context, cfg *Config) (DirectoryConn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := directory.NewClient(ctx, cfg.directoryConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return &directoryConn{client: client}, nil
}

// directoryConn adapts the internal directory client to the Directory
// contract, translating its error taxonomy to the package sentinels.
type directoryConn struct {
	client directory.Client
}

func (d *directoryConn) LookupDN(ctx context.Context, loginValue string) (string, error) {
	dn, err := d.client.ResolveDN(ctx, loginValue)
	if err != nil {
		return "", translateDirectoryError(err)
	}
	return dn, nil
}

func (d *directoryConn) Bind(ctx context.Context, dn, secret string) (bool, error) {
	ok, err := d.client.Authenticate(ctx, dn, secret)
	if err != nil {
		return false, translateDirectoryError(err)
	}
	return ok, nil
}

func (d *directoryConn) SearchAttributes(ctx context.Context, loginValue string, attrs []string) (map[string][]string, error) {
	result, err := d.client.SearchAttributes(ctx, loginValue, attrs)
	if err != nil {
		return nil, translateDirectoryError(err)
	}
	return result, nil
}

func (d *directoryConn) Ping(ctx context.Context) error {
	if err := d.client.Ping(ctx); err != nil {
		return translateDirectoryError(err)
	}
	return nil
}

func (d *directoryConn) Close() error {
	return d.client.Close()
}

func translateDirectoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case directory.IsNotFound(err):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
}
