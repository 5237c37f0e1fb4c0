// internal/engine/command.go
package engine

type CommandType int

const (
	CmdPlace CommandType = iota
	CmdMarket
	CmdCancel
	CmdTop
	CmdDepth
)

func (t CommandType) String() string {
	switch t {
	case CmdPlace:
		return "place"
	case CmdMarket:
		return "market"
	case CmdCancel:
		return "cancel"
	case CmdTop:
		return "top"
	case CmdDepth:
		return "depth"
	default:
		return "unknown"
	}
}

type Command struct {
	Type   CommandType
	Limit  LimitOrder  // used when Type == CmdPlace
	Market MarketOrder // used when Type == CmdMarket
	Side   Side        // used when Type == CmdCancel
	ID     OrderID     // used when Type == CmdCancel
	Levels int         // used when Type == CmdDepth
	Resp   chan any    // engine sends a reply[T] back here
}

type reply[T any] struct {
	Value T
	Err   error
}
