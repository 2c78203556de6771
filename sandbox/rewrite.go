package sandbox

import (
	"go.starlark.net/syntax"
)

// Names of the builtins that calls are routed through. They start with an
// underscore so generated code cannot reach them by accident.
const (
	percentBuiltin = "_percent"
	formatBuiltin  = "_format"
)

// rewriteFile routes the % operator and .format method calls through the
// Python-compatible string formatting builtins. Starlark's own versions reject
// width and precision, which calculation output relies on.
func rewriteFile(f *syntax.File) {
	f.Stmts = rewriteStmts(f.Stmts)
}

func rewriteStmts(stmts []syntax.Stmt) []syntax.Stmt {
	for i, stmt := range stmts {
		stmts[i] = rewriteStmt(stmt)
	}
	return stmts
}

func rewriteStmt(stmt syntax.Stmt) syntax.Stmt {
	switch s := stmt.(type) {
	case *syntax.AssignStmt:
		s.LHS = rewriteExpr(s.LHS)
		s.RHS = rewriteExpr(s.RHS)
		if id, ok := s.LHS.(*syntax.Ident); ok && s.Op == syntax.PERCENT_EQ {
			s.Op = syntax.EQ
			s.RHS = builtinCall(percentBuiltin, &syntax.Ident{NamePos: id.NamePos, Name: id.Name}, s.RHS)
		}
	case *syntax.DefStmt:
		s.Params = rewriteExprs(s.Params)
		s.Body = rewriteStmts(s.Body)
	case *syntax.ExprStmt:
		s.X = rewriteExpr(s.X)
	case *syntax.ForStmt:
		s.Vars = rewriteExpr(s.Vars)
		s.X = rewriteExpr(s.X)
		s.Body = rewriteStmts(s.Body)
	case *syntax.WhileStmt:
		s.Cond = rewriteExpr(s.Cond)
		s.Body = rewriteStmts(s.Body)
	case *syntax.IfStmt:
		s.Cond = rewriteExpr(s.Cond)
		s.True = rewriteStmts(s.True)
		s.False = rewriteStmts(s.False)
	case *syntax.ReturnStmt:
		if s.Result != nil {
			s.Result = rewriteExpr(s.Result)
		}
	}
	return stmt
}

func rewriteExprs(exprs []syntax.Expr) []syntax.Expr {
	for i, e := range exprs {
		exprs[i] = rewriteExpr(e)
	}
	return exprs
}

func rewriteExpr(expr syntax.Expr) syntax.Expr {
	switch e := expr.(type) {
	case nil:
		return nil
	case *syntax.BinaryExpr:
		e.X = rewriteExpr(e.X)
		e.Y = rewriteExpr(e.Y)
		if e.Op == syntax.PERCENT {
			return builtinCall(percentBuiltin, e.X, e.Y)
		}
	case *syntax.CallExpr:
		e.Fn = rewriteExpr(e.Fn)
		e.Args = rewriteExprs(e.Args)
		if dot, ok := e.Fn.(*syntax.DotExpr); ok && dot.Name.Name == "format" {
			e.Fn = &syntax.Ident{NamePos: dot.NamePos, Name: formatBuiltin}
			e.Args = append([]syntax.Expr{dot.X}, e.Args...)
		}
	case *syntax.Comprehension:
		e.Body = rewriteExpr(e.Body)
		for _, clause := range e.Clauses {
			switch c := clause.(type) {
			case *syntax.ForClause:
				c.Vars = rewriteExpr(c.Vars)
				c.X = rewriteExpr(c.X)
			case *syntax.IfClause:
				c.Cond = rewriteExpr(c.Cond)
			}
		}
	case *syntax.CondExpr:
		e.Cond = rewriteExpr(e.Cond)
		e.True = rewriteExpr(e.True)
		e.False = rewriteExpr(e.False)
	case *syntax.DictExpr:
		e.List = rewriteExprs(e.List)
	case *syntax.DictEntry:
		e.Key = rewriteExpr(e.Key)
		e.Value = rewriteExpr(e.Value)
	case *syntax.DotExpr:
		e.X = rewriteExpr(e.X)
	case *syntax.IndexExpr:
		e.X = rewriteExpr(e.X)
		e.Y = rewriteExpr(e.Y)
	case *syntax.LambdaExpr:
		e.Params = rewriteExprs(e.Params)
		e.Body = rewriteExpr(e.Body)
	case *syntax.ListExpr:
		e.List = rewriteExprs(e.List)
	case *syntax.ParenExpr:
		e.X = rewriteExpr(e.X)
	case *syntax.SliceExpr:
		e.X = rewriteExpr(e.X)
		e.Lo = rewriteExpr(e.Lo)
		e.Hi = rewriteExpr(e.Hi)
		e.Step = rewriteExpr(e.Step)
	case *syntax.TupleExpr:
		e.List = rewriteExprs(e.List)
	case *syntax.UnaryExpr:
		e.X = rewriteExpr(e.X)
	}
	return expr
}

func builtinCall(name string, args ...syntax.Expr) *syntax.CallExpr {
	start, _ := args[0].Span()
	_, end := args[len(args)-1].Span()
	return &syntax.CallExpr{
		Fn:     &syntax.Ident{NamePos: start, Name: name},
		Lparen: start,
		Args:   args,
		Rparen: end,
	}
}
