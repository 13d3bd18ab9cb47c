package formula

// Node is a parsed formula expression. The set of implementations is closed.
type Node interface {
	nodePos() int
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Pos   int
	Value float64
}

// StringLit is a double-quoted string literal.
type StringLit struct {
	Pos   int
	Value string
}

// BoolLit is true or false.
type BoolLit struct {
	Pos   int
	Value bool
}

// Ref reads another field's value from the snapshot.
type Ref struct {
	Pos   int
	Field string
}

// Unary is "-x" or "not x".
type Unary struct {
	Pos int
	Op  string
	X   Node
}

// Binary is "x op y" for arithmetic, comparison and boolean operators.
type Binary struct {
	Pos int
	Op  string
	X   Node
	Y   Node
}

// Call invokes one of the fixed library functions.
type Call struct {
	Pos  int
	Name string
	Args []Node
}

func (n *NumberLit) nodePos() int { return n.Pos }
func (n *StringLit) nodePos() int { return n.Pos }
func (n *BoolLit) nodePos() int   { return n.Pos }
func (n *Ref) nodePos() int       { return n.Pos }
func (n *Unary) nodePos() int     { return n.Pos }
func (n *Binary) nodePos() int    { return n.Pos }
func (n *Call) nodePos() int      { return n.Pos }
