package cypher

import (
	"fmt"
	"strings"

	"github.com/orneryd/grom/pkg/graph"
	"github.com/orneryd/grom/pkg/query"
)

func (c *compiler) compileExpr(e query.Expr) (string, error) {
	switch ex := e.(type) {
	case nil:
		return "", &graph.Error{Code: graph.EInvalid, Op: "cypher.Compile", Msg: "nil expression"}
	case query.Prop:
		alias, err := c.resolveRef(ex.On)
		if err != nil {
			return "", err
		}
		return alias + "." + quoteIdent(ex.Name), nil
	case query.Ident:
		return c.resolveRef(ex.On)
	case query.Param:
		return c.param(ex.Value)
	case query.Binary:
		l, err := c.compileExpr(ex.L)
		if err != nil {
			return "", err
		}
		r, err := c.compileExpr(ex.R)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", l, ex.Op, r), nil
	case query.Unary:
		x, err := c.compileExpr(ex.X)
		if err != nil {
			return "", err
		}
		if ex.Op == query.OpNot {
			return fmt.Sprintf("(NOT %s)", x), nil
		}
		return fmt.Sprintf("(-%s)", x), nil
	case query.Call:
		return c.compileCall(ex)
	case query.Cond:
		return c.compileCond(ex)
	case query.Shape:
		return c.compileShape(ex)
	default:
		return "", unsupported("unknown expression %T", e)
	}
}

// resolveRef maps a reference to the alias it denotes in the current
// record. Qualified references are only meaningful for the record shapes
// that carry them.
func (c *compiler) resolveRef(on query.Ref) (string, error) {
	switch on {
	case query.RefCurrent:
		switch c.cur.kind {
		case recNode, recRel:
			return c.cur.alias, nil
		case recSegment:
			return "", unsupported("segment stages must use start, rel or end references")
		case recPair:
			return "", unsupported("join stages must use left or right references")
		}
	case query.RefStart:
		if c.cur.kind == recSegment {
			return c.cur.start, nil
		}
	case query.RefRel:
		if c.cur.kind == recSegment {
			return c.cur.rel, nil
		}
	case query.RefEnd:
		if c.cur.kind == recSegment {
			return c.cur.end, nil
		}
	case query.RefLeft:
		if c.cur.kind == recPair {
			return c.cur.left, nil
		}
	case query.RefRight:
		if c.cur.kind == recPair {
			return c.cur.right, nil
		}
	}
	return "", unsupported("reference %q does not exist at this stage", string(on))
}

func (c *compiler) compileCall(call query.Call) (string, error) {
	args := make([]string, len(call.Args))
	for i, a := range call.Args {
		s, err := c.compileExpr(a)
		if err != nil {
			return "", err
		}
		args[i] = s
	}
	if err := checkArity(call.Fn, len(args)); err != nil {
		return "", err
	}

	switch call.Fn {
	case query.FnStartsWith:
		return fmt.Sprintf("(%s STARTS WITH %s)", args[0], args[1]), nil
	case query.FnEndsWith:
		return fmt.Sprintf("(%s ENDS WITH %s)", args[0], args[1]), nil
	case query.FnContains:
		return fmt.Sprintf("(%s CONTAINS %s)", args[0], args[1]), nil
	case query.FnYear, query.FnMonth, query.FnDay:
		// Temporal components read as property accessors.
		return component(args[0]) + "." + call.Fn.String(), nil
	case query.FnNow, query.FnUtcNow, query.FnToday:
		return call.Fn.String() + "()", nil
	default:
		return fmt.Sprintf("%s(%s)", call.Fn, strings.Join(args, ", ")), nil
	}
}

// component wraps an operand for accessor syntax unless it is already a
// bare alias or property path.
func component(s string) string {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '.', r == '`':
		default:
			return "(" + s + ")"
		}
	}
	return s
}

func checkArity(fn query.Func, n int) error {
	want := ""
	switch fn {
	case query.FnStartsWith, query.FnEndsWith, query.FnContains:
		if n != 2 {
			want = "2"
		}
	case query.FnSubstring:
		if n != 2 && n != 3 {
			want = "2 or 3"
		}
	case query.FnReplace:
		if n != 3 {
			want = "3"
		}
	case query.FnNow, query.FnUtcNow, query.FnToday:
		if n != 0 {
			want = "0"
		}
	default:
		if n != 1 {
			want = "1"
		}
	}
	if want == "" {
		return nil
	}
	return &graph.Error{Code: graph.EInvalid, Op: "cypher.Compile",
		Msg: fmt.Sprintf("%s takes %s arguments, got %d", fn, want, n)}
}

func (c *compiler) compileCond(cond query.Cond) (string, error) {
	test, err := c.compileExpr(cond.If)
	if err != nil {
		return "", err
	}
	then, err := c.compileExpr(cond.Then)
	if err != nil {
		return "", err
	}
	if cond.Else == nil {
		return fmt.Sprintf("CASE WHEN %s THEN %s END", test, then), nil
	}
	els, err := c.compileExpr(cond.Else)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CASE WHEN %s THEN %s ELSE %s END", test, then, els), nil
}

func (c *compiler) compileShape(sh query.Shape) (string, error) {
	parts := make([]string, len(sh.Fields))
	for i, f := range sh.Fields {
		expr, err := c.compileExpr(f.Expr)
		if err != nil {
			return "", err
		}
		parts[i] = quoteIdent(f.Name) + ": " + expr
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}

// quoteIdent renders a name for query text, backtick-quoting anything that
// is not a plain identifier. Flattened property names carry dots and always
// quote.
func quoteIdent(name string) string {
	if isPlainIdent(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
