package query

// Expr represents a predicate or projection expression in the query IR.
//
// This is a sealed interface - only types in this package implement it.
// The marker method pattern prevents external implementations and enables
// exhaustive type switches in backend compilers.
//
// Expression types:
//   - Prop: property access on a queried element
//   - Ident: the queried element itself
//   - Param: a captured value, always emitted as a query parameter
//   - Binary: comparison, logical, or arithmetic operator
//   - Unary: negation
//   - Call: built-in string/numeric/temporal function
//   - Cond: conditional (ternary) expression
//   - Shape: nested projection shape
//
// Expressions are immutable once constructed.
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Ref qualifies which element of the current stage an expression addresses.
// The zero value addresses the element the stage produces; the others pick
// parts of segment or join records.
type Ref string

const (
	RefCurrent Ref = ""
	RefStart   Ref = "start"
	RefRel     Ref = "rel"
	RefEnd     Ref = "end"
	RefLeft    Ref = "left"
	RefRight   Ref = "right"
)

// Prop is a property access on a queried element.
type Prop struct {
	On   Ref
	Name string
}

func (Prop) exprNode() {}

// Ident is the queried element itself, used to project whole nodes or
// relationships.
type Ident struct {
	On Ref
}

func (Ident) exprNode() {}

// Param is a captured value. The compiler always lifts it into the
// parameter map; it never appears inline in query text.
type Param struct {
	Value any
}

func (Param) exprNode() {}

// BinOp enumerates binary operators.
type BinOp int

const (
	OpEq BinOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
)

// String returns the operator's surface syntax.
func (op BinOp) String() string {
	switch op {
	case OpEq:
		return "="
	case OpNeq:
		return "<>"
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpPow:
		return "^"
	default:
		return "?"
	}
}

// Binary applies a binary operator to two sub-expressions.
type Binary struct {
	Op   BinOp
	L, R Expr
}

func (Binary) exprNode() {}

// UnOp enumerates unary operators.
type UnOp int

const (
	OpNot UnOp = iota
	OpNeg
)

// Unary applies a unary operator to a sub-expression.
type Unary struct {
	Op UnOp
	X  Expr
}

func (Unary) exprNode() {}

// Func enumerates the built-in functions the IR can express.
type Func int

const (
	FnStartsWith Func = iota
	FnEndsWith
	FnContains
	FnToUpper
	FnToLower
	FnTrim
	FnSubstring
	FnReplace
	FnLength
	FnAbs
	FnCeil
	FnFloor
	FnRound
	FnSqrt
	FnYear
	FnMonth
	FnDay
	FnNow
	FnUtcNow
	FnToday
)

// String returns the function name used in diagnostics.
func (f Func) String() string {
	switch f {
	case FnStartsWith:
		return "startsWith"
	case FnEndsWith:
		return "endsWith"
	case FnContains:
		return "contains"
	case FnToUpper:
		return "toUpper"
	case FnToLower:
		return "toLower"
	case FnTrim:
		return "trim"
	case FnSubstring:
		return "substring"
	case FnReplace:
		return "replace"
	case FnLength:
		return "size"
	case FnAbs:
		return "abs"
	case FnCeil:
		return "ceil"
	case FnFloor:
		return "floor"
	case FnRound:
		return "round"
	case FnSqrt:
		return "sqrt"
	case FnYear:
		return "year"
	case FnMonth:
		return "month"
	case FnDay:
		return "day"
	case FnNow:
		return "localdatetime"
	case FnUtcNow:
		return "datetime"
	case FnToday:
		return "date"
	default:
		return "?"
	}
}

// Call applies a built-in function to its arguments.
type Call struct {
	Fn   Func
	Args []Expr
}

func (Call) exprNode() {}

// Cond is a conditional expression: If ? Then : Else.
type Cond struct {
	If, Then, Else Expr
}

func (Cond) exprNode() {}

// Field names one projected value.
type Field struct {
	Name string
	Expr Expr
}

// Shape is a nested projection: a named set of fields rendered as a map.
type Shape struct {
	Fields []Field
}

func (Shape) exprNode() {}

// Constructors. These are the only way application code should build
// expressions; they keep trees well-formed by construction.

// Property references a property on the element the current stage produces.
func Property(name string) Expr { return Prop{Name: name} }

// PropertyOf references a property on a qualified element of a segment or
// join record.
func PropertyOf(on Ref, name string) Expr { return Prop{On: on, Name: name} }

// Element references the element itself.
func Element() Expr { return Ident{} }

// ElementOf references a qualified element of a segment or join record.
func ElementOf(on Ref) Expr { return Ident{On: on} }

// Value captures a literal. It is always parameterized at compile time.
func Value(v any) Expr { return Param{Value: v} }

// Eq compares two expressions for equality.
func Eq(l, r Expr) Expr { return Binary{Op: OpEq, L: l, R: r} }

// Neq compares two expressions for inequality.
func Neq(l, r Expr) Expr { return Binary{Op: OpNeq, L: l, R: r} }

// Lt is the < comparison.
func Lt(l, r Expr) Expr { return Binary{Op: OpLt, L: l, R: r} }

// Lte is the <= comparison.
func Lte(l, r Expr) Expr { return Binary{Op: OpLte, L: l, R: r} }

// Gt is the > comparison.
func Gt(l, r Expr) Expr { return Binary{Op: OpGt, L: l, R: r} }

// Gte is the >= comparison.
func Gte(l, r Expr) Expr { return Binary{Op: OpGte, L: l, R: r} }

// And folds predicates into a conjunction. And() with no arguments is the
// always-true predicate (compilers drop it).
func And(preds ...Expr) Expr { return foldBool(OpAnd, preds) }

// Or folds predicates into a disjunction.
func Or(preds ...Expr) Expr { return foldBool(OpOr, preds) }

func foldBool(op BinOp, preds []Expr) Expr {
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	out := preds[0]
	for _, p := range preds[1:] {
		out = Binary{Op: op, L: out, R: p}
	}
	return out
}

// Not negates a predicate.
func Not(x Expr) Expr { return Unary{Op: OpNot, X: x} }

// Neg negates a numeric expression.
func Neg(x Expr) Expr { return Unary{Op: OpNeg, X: x} }

// Add, Sub, Mul, Div, Mod, and Pow build arithmetic expressions.
func Add(l, r Expr) Expr { return Binary{Op: OpAdd, L: l, R: r} }
func Sub(l, r Expr) Expr { return Binary{Op: OpSub, L: l, R: r} }
func Mul(l, r Expr) Expr { return Binary{Op: OpMul, L: l, R: r} }
func Div(l, r Expr) Expr { return Binary{Op: OpDiv, L: l, R: r} }
func Mod(l, r Expr) Expr { return Binary{Op: OpMod, L: l, R: r} }
func Pow(l, r Expr) Expr { return Binary{Op: OpPow, L: l, R: r} }

// StartsWith, EndsWith, and Contains are string predicates.
func StartsWith(x, prefix Expr) Expr { return Call{Fn: FnStartsWith, Args: []Expr{x, prefix}} }
func EndsWith(x, suffix Expr) Expr   { return Call{Fn: FnEndsWith, Args: []Expr{x, suffix}} }
func Contains(x, sub Expr) Expr      { return Call{Fn: FnContains, Args: []Expr{x, sub}} }

// ToUpper, ToLower, and Trim are string transforms.
func ToUpper(x Expr) Expr { return Call{Fn: FnToUpper, Args: []Expr{x}} }
func ToLower(x Expr) Expr { return Call{Fn: FnToLower, Args: []Expr{x}} }
func Trim(x Expr) Expr    { return Call{Fn: FnTrim, Args: []Expr{x}} }

// Substring takes x from start (zero-based) for length characters.
func Substring(x, start, length Expr) Expr {
	return Call{Fn: FnSubstring, Args: []Expr{x, start, length}}
}

// Replace substitutes every occurrence of old in x with new.
func Replace(x, old, new Expr) Expr { return Call{Fn: FnReplace, Args: []Expr{x, old, new}} }

// Length is the character count of a string expression.
func Length(x Expr) Expr { return Call{Fn: FnLength, Args: []Expr{x}} }

// Abs, Ceil, Floor, Round, and Sqrt are numeric functions.
func Abs(x Expr) Expr   { return Call{Fn: FnAbs, Args: []Expr{x}} }
func Ceil(x Expr) Expr  { return Call{Fn: FnCeil, Args: []Expr{x}} }
func Floor(x Expr) Expr { return Call{Fn: FnFloor, Args: []Expr{x}} }
func Round(x Expr) Expr { return Call{Fn: FnRound, Args: []Expr{x}} }
func Sqrt(x Expr) Expr  { return Call{Fn: FnSqrt, Args: []Expr{x}} }

// Year, Month, and Day extract components from a datetime expression.
func Year(x Expr) Expr  { return Call{Fn: FnYear, Args: []Expr{x}} }
func Month(x Expr) Expr { return Call{Fn: FnMonth, Args: []Expr{x}} }
func Day(x Expr) Expr   { return Call{Fn: FnDay, Args: []Expr{x}} }

// Now is the local wall-clock datetime at evaluation time; UtcNow the same
// instant in UTC; Today the UTC date at midnight.
func Now() Expr    { return Call{Fn: FnNow} }
func UtcNow() Expr { return Call{Fn: FnUtcNow} }
func Today() Expr  { return Call{Fn: FnToday} }

// If builds a conditional expression: when cond holds, the result is then,
// otherwise els.
func If(cond, then, els Expr) Expr { return Cond{If: cond, Then: then, Else: els} }

// Map builds a nested projection shape.
func Map(fields ...Field) Expr { return Shape{Fields: fields} }

// F pairs a projection name with its expression.
func F(name string, expr Expr) Field { return Field{Name: name, Expr: expr} }
