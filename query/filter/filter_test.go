package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satishbabariya/recordkit/dialect"
	"github.com/satishbabariya/recordkit/query/filter"
	"github.com/satishbabariya/recordkit/query/sqlgen"
	"github.com/satishbabariya/recordkit/runtime"
)

var lite = dialect.MustNew(dialect.SQLite)

func TestParse(t *testing.T) {
	tests := []struct {
		name       string
		expr       string
		wantSQL    string
		wantValues []any
	}{
		{
			name:       "in list and grouped or",
			expr:       `status IN ('active', 'pending') AND (age >= 18 OR role = 'admin')`,
			wantSQL:    `"status" IN (:p0_status, :p1_status) AND ("age" >= :p2_age OR "role" = :p3_role)`,
			wantValues: []any{"active", "pending", int64(18), "admin"},
		},
		{
			name:       "and binds tighter than or",
			expr:       `a = 1 and b = 2 or c = 3`,
			wantSQL:    `("a" = :p0_a AND "b" = :p1_b) OR "c" = :p2_c`,
			wantValues: []any{int64(1), int64(2), int64(3)},
		},
		{
			name:       "lowercase not like",
			expr:       `name not like 'an%'`,
			wantSQL:    `"name" NOT LIKE :p0_name`,
			wantValues: []any{"an%"},
		},
		{
			name:       "ilike falls back to like",
			expr:       `name ILIKE 'an'`,
			wantSQL:    `"name" LIKE :p0_name`,
			wantValues: []any{"%an%"},
		},
		{
			name:       "between followed by and",
			expr:       `age BETWEEN 18 AND 30 AND active = true`,
			wantSQL:    `"age" BETWEEN :p0_age_lo AND :p1_age_hi AND "active" = :p2_active`,
			wantValues: []any{int64(18), int64(30), true},
		},
		{
			name:       "not between",
			expr:       `score NOT BETWEEN -1.5 AND 2`,
			wantSQL:    `"score" NOT BETWEEN :p0_score_lo AND :p1_score_hi`,
			wantValues: []any{-1.5, int64(2)},
		},
		{
			name:    "null tests",
			expr:    `deleted_at IS NULL AND posts.user_id is not null`,
			wantSQL: `"deleted_at" IS NULL AND "posts"."user_id" IS NOT NULL`,
		},
		{
			name:    "null comparisons",
			expr:    `a = NULL OR b <> null`,
			wantSQL: `"a" IS NULL OR "b" IS NOT NULL`,
		},
		{
			name:       "negated group",
			expr:       `NOT (a = 1 OR b = 2)`,
			wantSQL:    `NOT ("a" = :p0_a OR "b" = :p1_b)`,
			wantValues: []any{int64(1), int64(2)},
		},
		{
			name:       "not in",
			expr:       `id NOT IN (1, 2)`,
			wantSQL:    `"id" NOT IN (:p0_id, :p1_id)`,
			wantValues: []any{int64(1), int64(2)},
		},
		{
			name:       "escaped quote",
			expr:       `title = 'it''s'`,
			wantSQL:    `"title" = :p0_title`,
			wantValues: []any{"it's"},
		},
		{
			name:       "keyword prefixes are identifiers",
			expr:       `android != 'x' AND order_status < 3`,
			wantSQL:    `"android" != :p0_android AND "order_status" < :p1_order_status`,
			wantValues: []any{"x", int64(3)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := filter.Parse(tt.expr)
			require.NoError(t, err)

			frag, err := sqlgen.Compile(cond, lite, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, frag.SQL)

			var values []any
			for _, p := range frag.Params {
				values = append(values, p.Value)
			}
			assert.Equal(t, tt.wantValues, values)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cond, err := filter.Parse("   ")
	require.NoError(t, err)
	assert.Nil(t, cond)
}

func TestParse_Errors(t *testing.T) {
	for _, expr := range []string{
		`age >`,
		`age > NULL`,
		`name = 'unterminated`,
		`id IN ()`,
		`status = 'a' AND`,
		`(a = 1`,
		`a = 1; DROP TABLE users`,
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := filter.Parse(expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, runtime.ErrInvalidCondition)
		})
	}

	assert.Panics(t, func() { filter.MustParse("a >") })
}

func TestParseExpression_Tree(t *testing.T) {
	ast, err := filter.ParseExpression(`a = 1 OR NOT b IS NULL`)
	require.NoError(t, err)
	require.Len(t, ast.Or, 2)
	assert.Equal(t, "a", ast.Or[0].Terms[0].Predicate.Column)
	require.NotNil(t, ast.Or[1].Terms[0].Not)
	assert.Equal(t, "b", ast.Or[1].Terms[0].Not.Predicate.Column)
}
