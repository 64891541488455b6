package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/catalog"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *int64:
			*v = r.values[i].(int64)
		case *string:
			*v = r.values[i].(string)
		case *decimal.Decimal:
			*v = r.values[i].(decimal.Decimal)
		}
	}
	return nil
}

type fakeQuerier struct {
	row  fakeRow
	args []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.args = args
	return q.row
}

func TestResolver_ResolveProduct(t *testing.T) {
	tests := []struct {
		name       string
		row        fakeRow
		want       catalog.Product
		wantErrIs  error
		wantNotErr error
	}{
		{
			name: "found",
			row:  fakeRow{values: []any{int64(10), "P1", "Widget", decimal.RequireFromString("100.00")}},
			want: catalog.Product{ID: 10, Code: "P1", Name: "Widget", Price: decimal.RequireFromString("100.00")},
		},
		{
			name:      "missing",
			row:       fakeRow{err: pgx.ErrNoRows},
			wantErrIs: catalog.ErrNotFound,
		},
		{
			name:       "driver_error",
			row:        fakeRow{err: errors.New("conn reset")},
			wantNotErr: catalog.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQuerier{row: tt.row}
			got, err := catalog.NewResolver().ResolveProduct(context.Background(), q, "P1")

			assert.Equal(t, []any{"P1"}, q.args)
			switch {
			case tt.wantErrIs != nil:
				assert.ErrorIs(t, err, tt.wantErrIs)
			case tt.wantNotErr != nil:
				require.Error(t, err)
				assert.NotErrorIs(t, err, tt.wantNotErr)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestResolver_ResolveOption(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{values: []any{int64(7), "O1", "Gift wrap", decimal.RequireFromString("10.00")}}}
	got, err := catalog.NewResolver().ResolveOption(context.Background(), q, 11, "O1")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(11), "O1"}, q.args)
	assert.Equal(t, "Gift wrap", got.Name)

	q = &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	_, err = catalog.NewResolver().ResolveOption(context.Background(), q, 11, "O9")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
