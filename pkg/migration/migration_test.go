package migration_test

import (
	"testing"

	. "github.com/pseudomuto/waypoint/pkg/migration"
	"github.com/stretchr/testify/require"
)

func TestParseFilename(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		version string
		desc    string
		wantErr bool
	}{
		{name: "V1__create_users.sql", kind: KindVersioned, version: "1", desc: "create users"},
		{name: "V1.2__add_email.sql", kind: KindVersioned, version: "1.2", desc: "add email"},
		{name: "V2.0.1__fix.sql", kind: KindVersioned, version: "2.0.1", desc: "fix"},
		{name: "R__refresh_views.sql", kind: KindRepeatable, desc: "refresh views"},
		{name: "U2__drop_email.sql", kind: KindUndo, version: "2", desc: "drop email"},
		{name: "v1__lowercase.sql", wantErr: true},
		{name: "r__lowercase.sql", wantErr: true},
		{name: "V1_single_underscore.sql", wantErr: true},
		{name: "V1__desc.txt", wantErr: true},
		{name: "V__missing_version.sql", wantErr: true},
		{name: "R1__versioned_repeatable.sql", wantErr: true},
		{name: "V1__.sql", wantErr: true},
		{name: "X1__unknown_prefix.sql", wantErr: true},
		{name: ".sql", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, version, desc, err := ParseFilename(tt.name)
			if tt.wantErr {
				require.Error(t, err)

				var parseErr *ParseError
				require.ErrorAs(t, err, &parseErr)
				require.Equal(t, tt.name, parseErr.Script)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.kind, kind)
			require.Equal(t, tt.version, version.Raw)
			require.Equal(t, tt.desc, desc)
		})
	}
}

func TestKindHistoryType(t *testing.T) {
	require.Equal(t, "SQL", KindVersioned.HistoryType())
	require.Equal(t, "SQL_REPEATABLE", KindRepeatable.HistoryType())
	require.Equal(t, "SQL_UNDO", KindUndo.HistoryType())
}
