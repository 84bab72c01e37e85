// Package query restricts single SELECT statements to a permitted column set.
//
// Statements are parsed with PostgreSQL's own grammar (libpg_query) and
// deparsed back to canonical PostgreSQL: upper-case keywords, identifiers
// quoted only when required. Rewrite restricts the outer projection and the
// projections of CTE bodies and FROM subqueries; WHERE, JOIN, GROUP BY,
// ORDER BY, LIMIT and OFFSET are carried through unchanged.
package query

import (
	"errors"
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"

	dErrors "consentgate/pkg/domain-errors"
	fieldset "consentgate/pkg/platform/strings"
)

var (
	// ErrNoPermittedColumns is returned when a rewrite would leave nothing to select.
	ErrNoPermittedColumns = errors.New("no permitted columns remain in projection")
	// ErrAmbiguousWildcard is returned for a list that mixes stars over
	// different tables, e.g. `a.*, b.*`.
	ErrAmbiguousWildcard = errors.New("wildcards over different tables cannot be restricted unambiguously")
)

// functions with side effects or that reach outside the database
var forbiddenFunctions = map[string]struct{}{
	"nextval":              {},
	"setval":               {},
	"set_config":           {},
	"pg_sleep":             {},
	"pg_advisory_lock":     {},
	"pg_terminate_backend": {},
	"pg_cancel_backend":    {},
	"pg_read_file":         {},
	"pg_read_binary_file":  {},
	"lo_import":            {},
	"lo_export":            {},
	"dblink":               {},
	"dblink_exec":          {},
}

// statement is a parsed single SELECT and the tree it came from.
type statement struct {
	tree *pg_query.ParseResult
	sel  *pg_query.SelectStmt
}

func (s statement) deparse() (string, error) {
	out, err := pg_query.Deparse(s.tree)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeQueryRewriteFailed, "query could not be serialized")
	}
	return out, nil
}

// Validate reports whether sql is a single read-only SELECT. Rejected:
// set operations (UNION, INTERSECT, EXCEPT) at any depth, row locks, SELECT
// INTO, VALUES lists, data-modifying CTEs, side-effecting functions, and
// wildcards over more than one table in one list.
func Validate(sql string) bool {
	stmt, err := parseSelect(sql)
	if err != nil {
		return false
	}
	ok := true
	walk(stmt.tree.ProtoReflect(), func(m proto.Message) {
		switch n := m.(type) {
		case *pg_query.SelectStmt:
			if n.GetOp() != pg_query.SetOperation_SETOP_NONE ||
				len(n.GetLockingClause()) > 0 ||
				n.GetIntoClause() != nil ||
				len(n.GetValuesLists()) > 0 {
				ok = false
				return
			}
			if _, _, err := starQualifier(classifyAll(stmt.tree.GetVersion(), n.GetTargetList())); err != nil {
				ok = false
			}
		case *pg_query.InsertStmt, *pg_query.UpdateStmt, *pg_query.DeleteStmt, *pg_query.MergeStmt:
			ok = false
		case *pg_query.FuncCall:
			if _, bad := forbiddenFunctions[lastName(n.GetFuncname())]; bad {
				ok = false
			}
		}
	})
	return ok
}

// Rewrite restricts the projection of sql to allowed.
//
// A wildcard anywhere in a list replaces the whole list with one column per
// allowed field in lexical order. Otherwise each item is kept only if it is a
// column named in allowed, or an aliased expression whose alias and every
// referenced column are in allowed. Un-aliased computed expressions are always
// dropped. CTE bodies and FROM subqueries are restricted the same way so an
// outer alias cannot read a denied column through them.
func Rewrite(sql string, allowed []string) (string, error) {
	stmt, err := parseSelect(sql)
	if err != nil {
		return "", err
	}
	allowedSet := fieldset.Set(fieldset.DedupeAndTrim(allowed))
	if err := restrict(stmt.tree.GetVersion(), stmt.sel, allowedSet); err != nil {
		return "", err
	}
	return stmt.deparse()
}

func restrict(version int32, sel *pg_query.SelectStmt, allowed map[string]struct{}) error {
	for _, cte := range sel.GetWithClause().GetCtes() {
		if inner := cte.GetCommonTableExpr().GetCtequery().GetSelectStmt(); inner != nil {
			if err := restrict(version, inner, allowed); err != nil {
				return err
			}
		}
	}
	for _, from := range sel.GetFromClause() {
		if err := restrictFrom(version, from, allowed); err != nil {
			return err
		}
	}

	projections := classifyAll(version, sel.GetTargetList())
	qualifier, hasStar, err := starQualifier(projections)
	if err != nil {
		return err
	}

	var next []*pg_query.Node
	if hasStar {
		for _, f := range fieldset.SortedKeys(allowed) {
			next = append(next, resTarget(columnRef(qualifier, f)))
		}
	} else {
		for _, p := range projections {
			if p.permits(allowed) {
				next = append(next, p.target)
			}
		}
	}
	if len(next) == 0 {
		return ErrNoPermittedColumns
	}
	sel.TargetList = next
	return nil
}

func restrictFrom(version int32, from *pg_query.Node, allowed map[string]struct{}) error {
	switch {
	case from.GetRangeSubselect() != nil:
		if inner := from.GetRangeSubselect().GetSubquery().GetSelectStmt(); inner != nil {
			return restrict(version, inner, allowed)
		}
	case from.GetJoinExpr() != nil:
		j := from.GetJoinExpr()
		if err := restrictFrom(version, j.GetLarg(), allowed); err != nil {
			return err
		}
		return restrictFrom(version, j.GetRarg(), allowed)
	}
	return nil
}

// ExtractColumns returns the effective output name of every projected item,
// in projection order. See Projection for the naming rule.
func ExtractColumns(sql string) ([]string, error) {
	projections, err := Projections(sql)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(projections))
	for _, p := range projections {
		names = append(names, p.Name)
	}
	return names, nil
}

// Projections parses sql and classifies its outer SELECT list.
func Projections(sql string) ([]Projection, error) {
	stmt, err := parseSelect(sql)
	if err != nil {
		return nil, err
	}
	return classifyAll(stmt.tree.GetVersion(), stmt.sel.GetTargetList()), nil
}

// AddFieldFilter ANDs `field = 'value'` onto the WHERE clause. value is always
// a string literal.
func AddFieldFilter(sql, field, value string) (string, error) {
	if field == "" {
		return "", dErrors.New(dErrors.CodeInvalidRequest, "filter field is required")
	}
	stmt, err := parseSelect(sql)
	if err != nil {
		return "", err
	}

	cond := equals(field, value)
	if stmt.sel.WhereClause == nil {
		stmt.sel.WhereClause = cond
	} else {
		stmt.sel.WhereClause = and(stmt.sel.WhereClause, cond)
	}
	return stmt.deparse()
}

// AddLimit caps the statement at n rows. An existing literal limit that is
// already at most n is kept; OFFSET is preserved. LIMIT ALL and non-literal
// limits are replaced.
func AddLimit(sql string, n int) (string, error) {
	if n <= 0 {
		return "", dErrors.New(dErrors.CodeInvalidRequest, "limit must be positive")
	}
	stmt, err := parseSelect(sql)
	if err != nil {
		return "", err
	}

	sel := stmt.sel
	if current := literalInt(sel.GetLimitCount()); sel.LimitCount == nil || current < 0 || current > n {
		sel.LimitCount = intConst(n)
		if sel.LimitOption != pg_query.LimitOption_LIMIT_OPTION_WITH_TIES {
			sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_COUNT
		}
	}
	return stmt.deparse()
}

func parseSelect(sql string) (statement, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return statement{}, dErrors.Wrap(err, dErrors.CodeUnparsableQuery, "query could not be parsed")
	}
	stmts := tree.GetStmts()
	if len(stmts) != 1 {
		return statement{}, dErrors.New(dErrors.CodeUnparsableQuery,
			fmt.Sprintf("query must be a single statement, got %d", len(stmts)))
	}
	sel := stmts[0].GetStmt().GetSelectStmt()
	if sel == nil {
		return statement{}, dErrors.New(dErrors.CodeUnparsableQuery, "query must be a SELECT statement")
	}
	if sel.GetOp() != pg_query.SetOperation_SETOP_NONE || len(sel.GetValuesLists()) > 0 {
		return statement{}, dErrors.New(dErrors.CodeUnparsableQuery, "query must be a plain SELECT")
	}
	return statement{tree: tree, sel: sel}, nil
}

func classifyAll(version int32, targets []*pg_query.Node) []Projection {
	out := make([]Projection, 0, len(targets))
	for _, t := range targets {
		if t.GetResTarget() == nil {
			continue
		}
		out = append(out, classify(version, t))
	}
	return out
}

// starQualifier reports whether any wildcard is projected and the qualifier
// shared by every wildcard. Stars over different tables are ambiguous.
func starQualifier(projections []Projection) ([]*pg_query.Node, bool, error) {
	var (
		hasStar   bool
		name      string
		qualifier []*pg_query.Node
	)
	for _, p := range projections {
		if p.Kind != KindStar {
			continue
		}
		if !hasStar {
			hasStar, name, qualifier = true, p.Qualifier, p.qualifierNodes
			continue
		}
		if p.Qualifier != name {
			return nil, true, ErrAmbiguousWildcard
		}
	}
	return qualifier, hasStar, nil
}

func lastName(nodes []*pg_query.Node) string {
	if len(nodes) == 0 {
		return ""
	}
	return nodes[len(nodes)-1].GetString_().GetSval()
}
