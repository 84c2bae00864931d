package postgres

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// listQuery appends the time window, ordering and pagination of opts to a
// query whose positional arguments so far are args.
func listQuery(query string, args []any, column, order string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", column, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s < $%d", column, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + order

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
