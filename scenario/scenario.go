// Package scenario defines the task tree model for scenario documents and the
// loader that turns a declarative YAML document into a validated, immutable
// tree of serial/parallel groups and typed action leaves.
package scenario

// Kind identifies a leaf action. The set of kinds is closed; documents using
// any other kind are rejected at load time.
type Kind string

const (
	KindOpenChannel      Kind = "open_channel"
	KindTransfer         Kind = "transfer"
	KindCloseChannel     Kind = "close_channel"
	KindStopNode         Kind = "stop_node"
	KindStartNode        Kind = "start_node"
	KindWaitBlocks       Kind = "wait_blocks"
	KindStoreChannelInfo Kind = "store_channel_info"
	KindAssert           Kind = "assert"
	KindAssertEvents     Kind = "assert_events"
)

// Kinds returns all recognized leaf kinds.
func Kinds() []Kind {
	return []Kind{
		KindOpenChannel,
		KindTransfer,
		KindCloseChannel,
		KindStopNode,
		KindStartNode,
		KindWaitBlocks,
		KindStoreChannelInfo,
		KindAssert,
		KindAssertEvents,
	}
}

// Node is a node of the task tree: a Serial group, a Parallel group, or a
// Leaf action. The tree is built once by the loader and never mutated.
type Node interface {
	// Name returns the human readable name of the node, used in reports.
	Name() string

	isNode()
}

// Serial is a group whose children execute strictly in order. With Repeat > 1
// the whole group executes that many times before the enclosing group
// advances.
type Serial struct {
	TaskName string
	Repeat   int
	Children []Node
}

func (s *Serial) Name() string { return s.TaskName }
func (s *Serial) isNode()      {}

// Parallel is a group whose children all start concurrently. The group
// completes once every child has completed, regardless of individual
// failures.
type Parallel struct {
	TaskName string
	Children []Node
}

func (p *Parallel) Name() string { return p.TaskName }
func (p *Parallel) isNode()      {}

// Leaf is a single typed action. Params holds the kind-specific parameter
// struct; the concrete type is determined by Kind.
type Leaf struct {
	TaskName string
	Kind     Kind
	Repeat   int
	Params   Params
}

func (l *Leaf) Name() string { return l.TaskName }
func (l *Leaf) isNode()      {}

// Params is the closed union of per-kind leaf parameters.
type Params interface{ isParams() }

// OpenChannelParams requests participants From and To to establish and fund a
// channel to TotalDeposit. SettleTimeout is optional and falls back to the
// node's default when zero.
type OpenChannelParams struct {
	From          int
	To            int
	TotalDeposit  uint64
	SettleTimeout uint64
}

func (OpenChannelParams) isParams() {}

// TransferParams initiates a payment of Amount from From to To.
// ExpectedHTTPStatus, when non-zero, is the exact HTTP status the node's
// payment endpoint must return; zero means any 2xx.
type TransferParams struct {
	From               int
	To                 int
	Amount             uint64
	ExpectedHTTPStatus int
}

func (TransferParams) isParams() {}

// CloseChannelParams requests channel closure from node From against partner
// To.
type CloseChannelParams struct {
	From int
	To   int
}

func (CloseChannelParams) isParams() {}

// StopNodeParams stops the node with the given index via its control API.
type StopNodeParams struct {
	Index int
}

func (StopNodeParams) isParams() {}

// StartNodeParams starts the node with the given index via its control API.
type StartNodeParams struct {
	Index int
}

func (StartNodeParams) isParams() {}

// WaitBlocksParams blocks until Count further blocks have been observed on
// chain.
type WaitBlocksParams struct {
	Count uint64
}

func (WaitBlocksParams) isParams() {}

// StoreChannelInfoParams resolves the current channel between From and To and
// records it in the run context under Key.
type StoreChannelInfoParams struct {
	From int
	To   int
	Key  string
}

func (StoreChannelInfoParams) isParams() {}

// AssertParams compares the channel between From and To against the expected
// attributes. Nil fields are not checked.
type AssertParams struct {
	From         int
	To           int
	TotalDeposit *uint64
	Balance      *uint64
	State        *string
}

func (AssertParams) isParams() {}

// AssertEventsParams counts on-chain events emitted by Contract matching
// Event since the previous checkpoint for the same pair, and requires the
// count to equal exactly NumEvents. Zero is a valid expectation (absence
// proof).
type AssertEventsParams struct {
	Contract  string
	Event     string
	NumEvents int
}

func (AssertEventsParams) isParams() {}

// Scenario is the loaded document: global settings, node cluster description
// and the root of the task tree.
type Scenario struct {
	Version  int
	Settings Settings
	Nodes    NodesConfig
	Root     Node
}

// Walk visits every node of the tree depth-first, groups before their
// children. It stops early when fn returns false.
func Walk(n Node, fn func(Node) bool) bool {
	if !fn(n) {
		return false
	}
	switch v := n.(type) {
	case *Serial:
		for _, c := range v.Children {
			if !Walk(c, fn) {
				return false
			}
		}
	case *Parallel:
		for _, c := range v.Children {
			if !Walk(c, fn) {
				return false
			}
		}
	}

	return true
}

// Leaves returns every leaf of the tree in document order.
func Leaves(n Node) []*Leaf {
	var out []*Leaf
	Walk(n, func(n Node) bool {
		if l, ok := n.(*Leaf); ok {
			out = append(out, l)
		}

		return true
	})

	return out
}
