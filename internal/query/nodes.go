package query

import (
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Location -1 marks a node as synthesized; the deparser ignores locations.
const noLocation = -1

func selectNode(sel *pg_query.SelectStmt) *pg_query.Node {
	if sel.Op == pg_query.SetOperation_SET_OPERATION_UNDEFINED {
		sel.Op = pg_query.SetOperation_SETOP_NONE
	}
	if sel.LimitOption == pg_query.LimitOption_LIMIT_OPTION_UNDEFINED {
		sel.LimitOption = pg_query.LimitOption_LIMIT_OPTION_DEFAULT
	}
	return &pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: sel}}
}

func resTarget(val *pg_query.Node) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_ResTarget{ResTarget: &pg_query.ResTarget{
		Val:      val,
		Location: noLocation,
	}}}
}

func stringNode(s string) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_String_{String_: &pg_query.String{Sval: s}}}
}

// columnRef builds qualifier.name, copying the qualifier nodes.
func columnRef(qualifier []*pg_query.Node, name string) *pg_query.Node {
	fields := make([]*pg_query.Node, 0, len(qualifier)+1)
	for _, q := range qualifier {
		fields = append(fields, stringNode(q.GetString_().GetSval()))
	}
	fields = append(fields, stringNode(name))
	return &pg_query.Node{Node: &pg_query.Node_ColumnRef{ColumnRef: &pg_query.ColumnRef{
		Fields:   fields,
		Location: noLocation,
	}}}
}

func intConst(n int) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{
		Val:      &pg_query.A_Const_Ival{Ival: &pg_query.Integer{Ival: int32(n)}},
		Location: noLocation,
	}}}
}

func stringConst(s string) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_AConst{AConst: &pg_query.A_Const{
		Val:      &pg_query.A_Const_Sval{Sval: &pg_query.String{Sval: s}},
		Location: noLocation,
	}}}
}

// equals builds `field = 'value'`.
func equals(field, value string) *pg_query.Node {
	return &pg_query.Node{Node: &pg_query.Node_AExpr{AExpr: &pg_query.A_Expr{
		Kind:     pg_query.A_Expr_Kind_AEXPR_OP,
		Name:     []*pg_query.Node{stringNode("=")},
		Lexpr:    columnRef(nil, field),
		Rexpr:    stringConst(value),
		Location: noLocation,
	}}}
}

// and conjoins where with cond, flattening an existing top-level AND.
func and(where, cond *pg_query.Node) *pg_query.Node {
	if b := where.GetBoolExpr(); b != nil && b.GetBoolop() == pg_query.BoolExprType_AND_EXPR {
		b.Args = append(b.Args, cond)
		return where
	}
	return &pg_query.Node{Node: &pg_query.Node_BoolExpr{BoolExpr: &pg_query.BoolExpr{
		Boolop:   pg_query.BoolExprType_AND_EXPR,
		Args:     []*pg_query.Node{where, cond},
		Location: noLocation,
	}}}
}

// literalInt returns the value of an integer constant, or -1.
func literalInt(n *pg_query.Node) int {
	c := n.GetAConst()
	if c == nil || c.GetIsnull() || c.GetIval() == nil {
		return -1
	}
	return int(c.GetIval().GetIval())
}
