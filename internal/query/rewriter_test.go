package query

import (
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "consentgate/pkg/domain-errors"
)

// canonical deparses sql so expectations can be written in any spacing or case.
func canonical(t *testing.T, sql string) string {
	t.Helper()
	tree, err := pg_query.Parse(sql)
	require.NoError(t, err)
	out, err := pg_query.Deparse(tree)
	require.NoError(t, err)
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"plain select", "SELECT age FROM patients", true},
		{"select with where and limit", "SELECT age, gender FROM patients WHERE age > 30 LIMIT 10", true},
		{"trailing semicolon", "SELECT age FROM patients;", true},
		{"join", "SELECT p.age FROM patients p JOIN visits v ON p.id = v.patient_id", true},
		{"ilike", "SELECT age FROM patients WHERE name ILIKE 'a%'", true},
		{"cast", "SELECT age::text AS age FROM patients", true},
		{"quoted identifiers", `SELECT "age" FROM "patients"`, true},
		{"cte", "WITH x AS (SELECT age FROM patients) SELECT age FROM x", true},
		{"offset", "SELECT age FROM patients LIMIT 5 OFFSET 2", true},
		{"fetch first", "SELECT age FROM patients FETCH FIRST 5 ROWS ONLY", true},
		{"same-table stars", "SELECT p.*, p.* FROM patients p", true},
		{"for update", "SELECT age FROM patients FOR UPDATE", false},
		{"for share", "SELECT age FROM patients FOR SHARE", false},
		{"union", "SELECT age FROM patients UNION SELECT age FROM archive", false},
		{"union inside cte", "WITH x AS (SELECT age FROM a UNION SELECT age FROM b) SELECT age FROM x", false},
		{"select into", "SELECT age INTO copy FROM patients", false},
		{"values", "VALUES (1), (2)", false},
		{"data-modifying cte", "WITH d AS (DELETE FROM patients RETURNING age) SELECT age FROM d", false},
		{"sequence read", "SELECT nextval('s'), age FROM patients", false},
		{"sleep", "SELECT age FROM patients WHERE pg_sleep(10) IS NOT NULL", false},
		{"stars over different tables", "SELECT a.*, b.* FROM a JOIN b ON a.id = b.id", false},
		{"delete", "DELETE FROM patients", false},
		{"update", "UPDATE patients SET age = 1", false},
		{"stacked statements", "SELECT age FROM patients; DROP TABLE patients", false},
		{"comma limit syntax", "SELECT age FROM patients LIMIT 2, 5", false},
		{"garbage", "not a query", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.sql))
		})
	}
}

func TestRewrite(t *testing.T) {
	allowed := []string{"age", "gender"}

	tests := []struct {
		name    string
		sql     string
		allowed []string
		want    string
	}{
		{"explicit list keeps only allowed columns", "SELECT name, aadhaar, age FROM patients", allowed,
			"select age from patients"},
		{"star expands to allowed fields in lexical order", "SELECT * FROM patients WHERE age > 30", []string{"gender", "age"},
			"select age, gender from patients where age > 30"},
		{"qualified star keeps its qualifier", "SELECT p.* FROM patients AS p", allowed,
			"select p.age, p.gender from patients p"},
		{"star mixed with columns replaces the whole list", "SELECT *, ssn FROM patients", allowed,
			"select age, gender from patients"},
		{"qualified column uses its unqualified name", "SELECT p.age, p.ssn FROM patients p", allowed,
			"select p.age from patients p"},
		{"alias cannot launder a disallowed column", "SELECT gender AS age, ssn AS gender, age FROM patients", allowed,
			"select gender as age, age from patients"},
		{"un-aliased computed expressions are dropped", "SELECT count(*), upper(name) AS gender, age + 1, age FROM patients", []string{"age", "gender", "name"},
			"select upper(name) as gender, age from patients"},
		{"aliased wildcard aggregate is dropped", "SELECT count(*) AS age, gender FROM patients", allowed,
			"select gender from patients"},
		{"other clauses are untouched", "SELECT age, ssn FROM patients WHERE ssn = 'x' GROUP BY age ORDER BY age DESC LIMIT 5", allowed,
			"select age from patients where ssn = 'x' group by age order by age desc limit 5"},
		{"offset survives", "SELECT age, ssn FROM patients LIMIT 5 OFFSET 2", allowed,
			"select age from patients limit 5 offset 2"},
		{"cast with allowed alias is kept", "SELECT age::text AS age, ssn::text AS gender FROM patients", allowed,
			"select age::text as age from patients"},
		{"un-aliased cast is computed", "SELECT age::text, gender FROM patients", allowed,
			"select gender from patients"},
		{"quoted identifiers compare case-sensitively", `SELECT "Age", age FROM "Patients"`, allowed,
			`select age from "Patients"`},
		{"unquoted identifiers fold to lower case", "SELECT AGE, SSN FROM Patients", allowed,
			"select age from patients"},
		{"cte body is restricted", "WITH x AS (SELECT age, ssn FROM patients) SELECT age FROM x", allowed,
			"with x as (select age from patients) select age from x"},
		{"cte cannot launder through an alias", "WITH x AS (SELECT ssn AS age, gender FROM patients) SELECT age, gender FROM x", allowed,
			"with x as (select gender from patients) select age, gender from x"},
		{"from subquery is restricted", "SELECT s.* FROM (SELECT * FROM patients) s", allowed,
			"select s.age, s.gender from (select age, gender from patients) s"},
		{"scalar subquery reading a denied column is dropped", "SELECT (SELECT ssn FROM ids LIMIT 1) AS age, gender FROM patients", allowed,
			"select gender from patients"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Rewrite(tt.sql, tt.allowed)
			require.NoError(t, err)
			assert.Equal(t, canonical(t, tt.want), out)
		})
	}

	t.Run("offset keeps its own clause", func(t *testing.T) {
		out, err := Rewrite("SELECT age FROM patients LIMIT 5 OFFSET 2", allowed)
		require.NoError(t, err)
		assert.Contains(t, out, "OFFSET 2")
		assert.NotContains(t, out, "2, 5")
	})

	t.Run("nothing left to select", func(t *testing.T) {
		_, err := Rewrite("SELECT ssn, name FROM patients", allowed)
		assert.ErrorIs(t, err, ErrNoPermittedColumns)

		_, err = Rewrite("SELECT * FROM patients", nil)
		assert.ErrorIs(t, err, ErrNoPermittedColumns)

		_, err = Rewrite("WITH x AS (SELECT ssn FROM patients) SELECT * FROM x", allowed)
		assert.ErrorIs(t, err, ErrNoPermittedColumns)
	})

	t.Run("stars over different tables are rejected", func(t *testing.T) {
		_, err := Rewrite("SELECT a.*, b.* FROM a JOIN b ON a.id = b.id", allowed)
		assert.ErrorIs(t, err, ErrAmbiguousWildcard)
	})

	t.Run("unparsable query", func(t *testing.T) {
		_, err := Rewrite("SELEC age FRM patients", allowed)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnparsableQuery))
	})

	t.Run("non select", func(t *testing.T) {
		_, err := Rewrite("DELETE FROM patients", allowed)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnparsableQuery))
	})
}

func TestRewrite_IdempotentAndContained(t *testing.T) {
	queries := []string{
		"SELECT * FROM patients",
		"SELECT name, aadhaar, age FROM patients",
		"SELECT p.* FROM patients p WHERE p.age > 18",
		"SELECT age AS years, gender, zip FROM patients ORDER BY zip",
		"SELECT upper(name) AS name, count(*), age FROM patients GROUP BY age",
		"SELECT DISTINCT gender, age FROM patients LIMIT 3 OFFSET 1",
		"SELECT age::int AS years, \"zip\" FROM patients",
		"WITH x AS (SELECT * FROM patients) SELECT * FROM x",
	}
	fieldSets := [][]string{
		{"age"},
		{"age", "gender"},
		{"gender", "zip", "name", "years"},
		{"age", "gender", "name", "zip", "years"},
	}

	for _, sql := range queries {
		for _, fields := range fieldSets {
			once, err := Rewrite(sql, fields)
			if err != nil {
				assert.ErrorIs(t, err, ErrNoPermittedColumns, "%s / %v", sql, fields)
				continue
			}
			assert.True(t, Validate(once), "rewritten query no longer valid: %s", once)

			twice, err := Rewrite(once, fields)
			require.NoError(t, err)
			assert.Equal(t, once, twice, "rewrite not idempotent for %s / %v", sql, fields)

			cols, err := ExtractColumns(once)
			require.NoError(t, err)
			assert.Subset(t, fields, cols, "leaked column for %s / %v", sql, fields)
		}
	}
}

func TestRewrite_FixedPointWhenColumnsAlreadyAllowed(t *testing.T) {
	sql := canonical(t, "select age, gender from patients where age > 30")
	out, err := Rewrite(sql, []string{"gender", "age"})
	require.NoError(t, err)
	assert.Equal(t, sql, out)
}

func TestExtractColumns(t *testing.T) {
	cols, err := ExtractColumns("SELECT *, p.*, count(*), age AS a, p.gender FROM patients p")
	require.NoError(t, err)
	assert.Equal(t, []string{"*", "p.*", "count(*)", "a", "gender"}, cols)

	_, err = ExtractColumns("DROP TABLE patients")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnparsableQuery))
}

func TestProjections(t *testing.T) {
	ps, err := Projections("SELECT age, p.*, upper(name) AS n, 1 + 1, age::text FROM patients p")
	require.NoError(t, err)
	require.Len(t, ps, 5)

	assert.Equal(t, KindColumn, ps[0].Kind)
	assert.Equal(t, KindStar, ps[1].Kind)
	assert.Equal(t, "p", ps[1].Qualifier)
	assert.Equal(t, KindAliased, ps[2].Kind)
	assert.Equal(t, []string{"name"}, ps[2].References)
	assert.Equal(t, KindComputed, ps[3].Kind)
	assert.Equal(t, "1 + 1", ps[3].Name)
	assert.Equal(t, KindComputed, ps[4].Kind)
	assert.Equal(t, []string{"age"}, ps[4].References)
}

func TestAddLimit(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		n    int
		want string
	}{
		{"adds limit", "SELECT age FROM patients", 100, "select age from patients limit 100"},
		{"keeps smaller limit", "SELECT age FROM patients LIMIT 10", 100, "select age from patients limit 10"},
		{"caps larger limit", "SELECT age FROM patients LIMIT 500", 100, "select age from patients limit 100"},
		{"keeps offset", "SELECT age FROM patients LIMIT 500 OFFSET 20", 100, "select age from patients limit 100 offset 20"},
		{"offset without limit", "SELECT age FROM patients OFFSET 20", 100, "select age from patients limit 100 offset 20"},
		{"replaces limit all", "SELECT age FROM patients LIMIT ALL", 100, "select age from patients limit 100"},
		{"caps fetch first", "SELECT age FROM patients FETCH FIRST 500 ROWS ONLY", 100, "select age from patients limit 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddLimit(tt.sql, tt.n)
			require.NoError(t, err)
			assert.Equal(t, canonical(t, tt.want), got)
		})
	}

	t.Run("non positive limit", func(t *testing.T) {
		_, err := AddLimit("SELECT age FROM patients", 0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequest))
	})
}

func TestAddFieldFilter(t *testing.T) {
	t.Run("adds where", func(t *testing.T) {
		got, err := AddFieldFilter("SELECT age FROM patients", "study_id", "S1")
		require.NoError(t, err)
		assert.Equal(t, canonical(t, "select age from patients where study_id = 'S1'"), got)
	})

	t.Run("extends an existing conjunction", func(t *testing.T) {
		got, err := AddFieldFilter("SELECT age FROM patients WHERE a = 1 AND b = 2", "study_id", "S1")
		require.NoError(t, err)
		assert.Equal(t, canonical(t, "select age from patients where a = 1 and b = 2 and study_id = 'S1'"), got)
	})

	t.Run("preserves precedence of an existing OR", func(t *testing.T) {
		got, err := AddFieldFilter("SELECT age FROM patients WHERE a = 1 OR b = 2", "study_id", "S1")
		require.NoError(t, err)
		assert.Equal(t, canonical(t, "select age from patients where (a = 1 or b = 2) and study_id = 'S1'"), got)
	})

	t.Run("value is a literal, not sql", func(t *testing.T) {
		value := "x' OR '1'='1"
		got, err := AddFieldFilter("SELECT age FROM patients", "study_id", value)
		require.NoError(t, err)

		tree, err := pg_query.Parse(got)
		require.NoError(t, err)
		where := tree.GetStmts()[0].GetStmt().GetSelectStmt().GetWhereClause()
		cmp := where.GetAExpr()
		require.NotNil(t, cmp, "expected a single comparison, got %v", where)
		assert.Equal(t, value, cmp.GetRexpr().GetAConst().GetSval().GetSval())
	})

	t.Run("unparsable", func(t *testing.T) {
		_, err := AddFieldFilter("nope", "study_id", "S1")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnparsableQuery))
	})
}
