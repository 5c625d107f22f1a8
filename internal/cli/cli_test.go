package cli

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangeclaims/api/internal/audit"
	"rangeclaims/api/internal/auth"
	"rangeclaims/api/internal/config"
)

func run(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(e)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommandMintsVerifiableToken(t *testing.T) {
	e := &env{cfg: config.Config{JWTSecret: "cli-secret", AccessTTL: time.Minute}}

	out, err := run(t, e, "token", "--sub", "usr-ops", "--name", "Ops", "--role", "admin_employee")
	require.NoError(t, err)

	claims, err := auth.ParseToken([]byte("cli-secret"), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "usr-ops", claims.Subject)
	assert.Equal(t, "admin_employee", claims.Role)
}

func TestTokenCommandRejectsBadInput(t *testing.T) {
	e := &env{cfg: config.Config{JWTSecret: "cli-secret", AccessTTL: time.Minute}}

	_, err := run(t, e, "token")
	assert.ErrorContains(t, err, "--sub")

	_, err = run(t, e, "token", "--sub", "usr-1", "--role", "emperor")
	assert.ErrorContains(t, err, "unknown role")
}

func TestDatabaseCommandsSurfaceConnectionErrors(t *testing.T) {
	var gotURL string
	e := &env{
		cfg: config.Config{DatabaseURL: "postgres://default"},
		openDB: func(_ context.Context, url string) (*sql.DB, error) {
			gotURL = url
			return nil, errors.New("dial tcp: connection refused")
		},
	}

	for _, args := range [][]string{
		{"migrate", "up"},
		{"migrate", "down"},
		{"audit", "multivalue", "--fix"},
	} {
		_, err := run(t, e, append(args, "--database-url", "postgres://override")...)
		assert.ErrorContains(t, err, "connection refused", args)
		assert.Equal(t, "postgres://override", gotURL)
	}
}

func TestWriteReportTable(t *testing.T) {
	cmd := newRootCommand(&env{})
	var out bytes.Buffer
	cmd.SetOut(&out)

	err := writeReport(cmd, audit.Report{
		Scanned: 3,
		Findings: []audit.Finding{
			{ListingID: "lst-2", Slug: "prairie", Column: "tags", Raw: "{indoor}", Canonical: `["indoor"]`},
		},
	}, false)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "lst-2")
	assert.Contains(t, out.String(), `["indoor"]`)
	assert.Contains(t, out.String(), "scanned 3 listings, 1 non-canonical values")
}
