package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fieldops/fieldops/internal/rbac"
)

// RBACAdmin is the subset of the permission engine reachable from the command line.
type RBACAdmin interface {
	BootstrapSuperuser(ctx context.Context, userID int64) error
	SyncCatalog(ctx context.Context) (rbac.SyncReport, error)
	InvalidateUser(ctx context.Context, userID int64) error
	ClearCache(ctx context.Context) error
	SuperRole() string
}

// RBACOpsCLI offers operational helpers that bypass the HTTP guards.
type RBACOpsCLI struct {
	admin RBACAdmin
}

// NewRBACOpsCLI constructs a new helper instance.
func NewRBACOpsCLI(admin RBACAdmin) (*RBACOpsCLI, error) {
	if admin == nil {
		return nil, errors.New("rbac cli: engine not configured")
	}
	return &RBACOpsCLI{admin: admin}, nil
}

// OutputOptions are shared by every rbac command.
type OutputOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *OutputOptions) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// AssignSuperOptions defines flags for the assign-super command.
type AssignSuperOptions struct {
	OutputOptions
	UserID int64
}

// AssignSuperCommand grants the break-glass role to a user and returns the exit code.
func (c *RBACOpsCLI) AssignSuperCommand(ctx context.Context, opts AssignSuperOptions) int {
	opts.defaults()
	if opts.UserID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "rbac assign-super: --user is required and must be positive")
		return 1
	}
	if err := c.admin.BootstrapSuperuser(ctx, opts.UserID); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rbac assign-super: %v\n", err)
		return 1
	}
	result := struct {
		UserID int64  `json:"user_id"`
		Role   string `json:"role"`
	}{UserID: opts.UserID, Role: c.admin.SuperRole()}
	if opts.JSONOutput {
		return encodeJSON(opts.OutputOptions, "rbac assign-super", result)
	}
	_, _ = fmt.Fprintf(opts.Stdout, "user %d now holds role %s\n", result.UserID, result.Role)
	return 0
}

// SyncCatalogCommand persists the permission catalog and returns the exit code.
// Exit code 10 signals that the break-glass role is missing.
func (c *RBACOpsCLI) SyncCatalogCommand(ctx context.Context, opts OutputOptions) int {
	opts.defaults()
	report, err := c.admin.SyncCatalog(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rbac sync-catalog: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if code := encodeJSON(opts, "rbac sync-catalog", report); code != 0 {
			return code
		}
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "registered: %d\ncreated:    %d\n", report.Registered, report.Created)
		if !report.SuperRoleFound {
			_, _ = fmt.Fprintf(opts.Stdout, "warning: role %s not found, nothing granted\n", c.admin.SuperRole())
		}
	}
	if !report.SuperRoleFound {
		return 10
	}
	return 0
}

// FlushCacheOptions defines flags for the flush-cache command.
type FlushCacheOptions struct {
	OutputOptions
	UserID int64
}

// FlushCacheCommand drops cached permissions for one user, or everyone when UserID is zero.
func (c *RBACOpsCLI) FlushCacheCommand(ctx context.Context, opts FlushCacheOptions) int {
	opts.defaults()
	if opts.UserID < 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "rbac flush-cache: --user must not be negative")
		return 1
	}
	var err error
	scope := "all"
	if opts.UserID > 0 {
		scope = fmt.Sprintf("user %d", opts.UserID)
		err = c.admin.InvalidateUser(ctx, opts.UserID)
	} else {
		err = c.admin.ClearCache(ctx)
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "rbac flush-cache: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		return encodeJSON(opts.OutputOptions, "rbac flush-cache", map[string]string{"flushed": scope})
	}
	_, _ = fmt.Fprintf(opts.Stdout, "flushed %s\n", scope)
	return 0
}

func encodeJSON(opts OutputOptions, command string, v any) int {
	if err := json.NewEncoder(opts.Stdout).Encode(v); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "%s: encode json: %v\n", command, err)
		return 1
	}
	return 0
}
