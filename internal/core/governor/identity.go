package governor

import (
	"fmt"
	"strconv"
	"strings"
)

// Identity names one governed operation: the operation plus its arguments in
// call order. Two identities are equal only when every argument matches in
// both value and type, so the integer 12 and the string "12" differ.
type Identity struct {
	Operation string
	Args      []any
}

// NewIdentity builds an identity for op called with args.
func NewIdentity(op string, args ...any) Identity {
	return Identity{Operation: op, Args: args}
}

// Key returns the canonical encoding used as the cache and coalescing key.
func (id Identity) Key() string {
	var b strings.Builder
	b.WriteString(strconv.Quote(id.Operation))
	for _, arg := range id.Args {
		b.WriteByte('|')
		b.WriteString(encodeArg(arg))
	}
	return b.String()
}

func (id Identity) String() string {
	parts := make([]string, 0, len(id.Args))
	for _, arg := range id.Args {
		parts = append(parts, fmt.Sprintf("%v", arg))
	}
	return id.Operation + "(" + strings.Join(parts, ", ") + ")"
}

func encodeArg(arg any) string {
	switch v := arg.(type) {
	case nil:
		return "nil"
	case string:
		return "s:" + strconv.Quote(v)
	case bool:
		return "b:" + strconv.FormatBool(v)
	case int:
		return "i:" + strconv.FormatInt(int64(v), 10)
	case int32:
		return "i:" + strconv.FormatInt(int64(v), 10)
	case int64:
		return "i:" + strconv.FormatInt(v, 10)
	case float64:
		return "f:" + strconv.FormatFloat(v, 'g', -1, 64)
	default:
		return fmt.Sprintf("%T:%q", v, fmt.Sprint(v))
	}
}
