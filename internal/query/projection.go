package query

import (
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// ProjectionKind classifies a SELECT list item.
type ProjectionKind int

const (
	// KindColumn is a bare column reference, optionally table-qualified.
	KindColumn ProjectionKind = iota
	// KindStar is a wildcard, bare (*) or qualified (t.*).
	KindStar
	// KindAliased is any expression with an explicit alias, including an aliased column.
	KindAliased
	// KindComputed is an un-aliased non-column expression: function call, literal, cast, arithmetic.
	KindComputed
)

func (k ProjectionKind) String() string {
	switch k {
	case KindColumn:
		return "column"
	case KindStar:
		return "star"
	case KindAliased:
		return "aliased"
	default:
		return "computed"
	}
}

// Projection is one classified item of a SELECT list.
//
// Name is the effective output name: the unqualified column name for columns,
// the alias for aliased expressions, "*" or "t.*" for stars, and the deparsed
// expression for computed items. A computed name is never treated as a field
// name, so un-aliased computed expressions never survive a rewrite.
//
// Unquoted identifiers arrive folded to lower case, as PostgreSQL folds them.
type Projection struct {
	Kind      ProjectionKind
	Name      string
	Qualifier string
	// References are the column names read by the expression, in order of appearance.
	References []string
	// ReadsAll is set when the expression reads a whole row (count(*), t.*).
	ReadsAll bool

	target         *pg_query.Node
	qualifierNodes []*pg_query.Node
}

func classify(version int32, target *pg_query.Node) Projection {
	rt := target.GetResTarget()
	val := rt.GetVal()
	refs, readsAll := references(val)

	if rt.GetName() != "" {
		return Projection{Kind: KindAliased, Name: rt.GetName(), References: refs, ReadsAll: readsAll, target: target}
	}

	if col := val.GetColumnRef(); col != nil && len(col.GetFields()) > 0 {
		fields := col.GetFields()
		last := fields[len(fields)-1]
		qualifier := joinNames(fields[:len(fields)-1])
		switch {
		case last.GetAStar() != nil:
			p := Projection{Kind: KindStar, Name: "*", ReadsAll: true, target: target,
				Qualifier: qualifier, qualifierNodes: fields[:len(fields)-1]}
			if qualifier != "" {
				p.Name = qualifier + ".*"
			}
			return p
		case last.GetString_() != nil:
			return Projection{Kind: KindColumn, Name: last.GetString_().GetSval(), Qualifier: qualifier,
				References: refs, target: target}
		}
	}

	return Projection{Kind: KindComputed, Name: deparseExpr(version, val), References: refs, ReadsAll: readsAll, target: target}
}

// references collects every column an expression reads, including columns
// read inside scalar subqueries.
func references(expr *pg_query.Node) ([]string, bool) {
	var refs []string
	readsAll := false
	if expr == nil {
		return nil, false
	}
	walk(expr.ProtoReflect(), func(m proto.Message) {
		switch n := m.(type) {
		case *pg_query.ColumnRef:
			fields := n.GetFields()
			if len(fields) == 0 {
				return
			}
			if s := fields[len(fields)-1].GetString_(); s != nil {
				refs = append(refs, s.GetSval())
			} else {
				readsAll = true
			}
		case *pg_query.FuncCall:
			if n.GetAggStar() {
				readsAll = true
			}
		}
	})
	return refs, readsAll
}

// permits reports whether p may appear in a projection restricted to allowed.
func (p Projection) permits(allowed map[string]struct{}) bool {
	switch p.Kind {
	case KindColumn:
		_, ok := allowed[p.Name]
		return ok
	case KindAliased:
		if _, ok := allowed[p.Name]; !ok || p.ReadsAll {
			return false
		}
		// an alias must not launder a column that is not itself allowed
		for _, ref := range p.References {
			if _, ok := allowed[ref]; !ok {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// walk visits m and every message reachable from it, depth first.
func walk(m protoreflect.Message, visit func(proto.Message)) {
	if !m.IsValid() {
		return
	}
	visit(m.Interface())
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		if fd.Kind() != protoreflect.MessageKind || fd.IsMap() {
			return true
		}
		if fd.IsList() {
			list := v.List()
			for i := 0; i < list.Len(); i++ {
				walk(list.Get(i).Message(), visit)
			}
			return true
		}
		walk(v.Message(), visit)
		return true
	})
}

func joinNames(nodes []*pg_query.Node) string {
	parts := make([]string, 0, len(nodes))
	for _, n := range nodes {
		parts = append(parts, n.GetString_().GetSval())
	}
	return strings.Join(parts, ".")
}

// deparseExpr renders a single expression by deparsing it as `SELECT <expr>`.
func deparseExpr(version int32, expr *pg_query.Node) string {
	out, err := pg_query.Deparse(&pg_query.ParseResult{
		Version: version,
		Stmts: []*pg_query.RawStmt{{Stmt: selectNode(&pg_query.SelectStmt{
			TargetList: []*pg_query.Node{resTarget(expr)},
		})}},
	})
	if err != nil {
		return "?"
	}
	return strings.TrimPrefix(out, "SELECT ")
}
