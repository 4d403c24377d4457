package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/pseudomuto/waypoint/pkg/postgres"
	"github.com/pseudomuto/waypoint/pkg/schema"
)

// Clean drops every non-system object in the configured schema: views,
// materialized views, tables, sequences, functions, and enum types, in
// that order, each with CASCADE. It returns the qualified names of the
// dropped objects.
//
// The operation is destructive and gated: the caller must pass
// allow=true or the configuration must set clean_enabled; otherwise
// ErrCleanDisabled is returned before touching the database.
func (w *Waypoint) Clean(ctx context.Context, allow bool) ([]string, error) {
	if !allow && !w.cfg.Migrations.CleanEnabled {
		return nil, ErrCleanDisabled
	}

	var dropped []string
	err := w.withLock(ctx, func() error {
		schemaName := w.cfg.Migrations.Schema

		snap, err := schema.Introspect(ctx, w.client.Conn(), schemaName)
		if err != nil {
			return err
		}

		type drop struct {
			sql  string
			name string
		}
		var drops []drop

		for _, v := range snap.Views {
			kind := "VIEW"
			if v.Materialized {
				kind = "MATERIALIZED VIEW"
			}
			drops = append(drops, drop{
				sql:  fmt.Sprintf("DROP %s IF EXISTS %s CASCADE", kind, postgres.QuoteQualified(schemaName, v.Name)),
				name: qualified(schemaName, v.Name),
			})
		}
		for _, t := range snap.Tables {
			drops = append(drops, drop{
				sql:  fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", postgres.QuoteQualified(schemaName, t.Name)),
				name: qualified(schemaName, t.Name),
			})
		}
		for _, s := range snap.Sequences {
			drops = append(drops, drop{
				sql:  fmt.Sprintf("DROP SEQUENCE IF EXISTS %s CASCADE", postgres.QuoteQualified(schemaName, s.Name)),
				name: qualified(schemaName, s.Name),
			})
		}
		for _, f := range snap.Functions {
			sig := postgres.QuoteQualified(schemaName, f.Name) + "(" + f.Arguments + ")"
			drops = append(drops, drop{
				sql:  "DROP FUNCTION IF EXISTS " + sig + " CASCADE",
				name: qualified(schemaName, f.Name),
			})
		}
		for _, e := range snap.Enums {
			drops = append(drops, drop{
				sql:  fmt.Sprintf("DROP TYPE IF EXISTS %s CASCADE", postgres.QuoteQualified(schemaName, e.Name)),
				name: qualified(schemaName, e.Name),
			})
		}

		for _, d := range drops {
			if err := w.client.Exec(ctx, d.sql); err != nil {
				// CASCADE from an earlier drop may have taken this
				// object with it.
				if strings.Contains(err.Error(), "does not exist") {
					continue
				}
				return errors.Wrapf(err, "failed to drop %s", d.name)
			}
			dropped = append(dropped, d.name)
		}

		return nil
	})

	if err == nil {
		w.logger.Info("clean completed", "schema", w.cfg.Migrations.Schema, "dropped", len(dropped))
	}
	return dropped, err
}

func qualified(schemaName, name string) string {
	return schemaName + "." + name
}
