package scenario

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrMalformedScenario is wrapped by every structural document error. Loading
// fails before any execution starts; the loader has no side effects.
var ErrMalformedScenario = errors.New("malformed scenario")

func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedScenario, fmt.Sprintf(format, args...))
}

const (
	keySerial   = "serial"
	keyParallel = "parallel"
)

// document mirrors the top level of the YAML scenario format. The scenario
// section is kept as a raw node so the task tree can be parsed with full
// structural validation.
type document struct {
	Version  int         `yaml:"version"`
	Settings Settings    `yaml:"settings"`
	Nodes    NodesConfig `yaml:"nodes"`
	Scenario yaml.Node   `yaml:"scenario"`
}

// Load reads and parses a scenario document from path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	return Parse(data)
}

// Parse parses a scenario document and constructs the validated task tree.
// Every Serial/Parallel group must have at least one child and every leaf
// must carry a recognized kind with all required parameters; anything else
// fails with an error wrapping ErrMalformedScenario.
func Parse(data []byte) (*Scenario, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, malformedf("invalid yaml: %v", err)
	}
	if doc.Version < 1 {
		return nil, malformedf("missing or invalid version")
	}
	if err := doc.Nodes.validate(); err != nil {
		return nil, err
	}
	if doc.Scenario.Kind == 0 {
		return nil, malformedf("missing scenario section")
	}

	p := &parser{nodeCount: doc.Nodes.Count}
	root, err := p.parseTask(&doc.Scenario)
	if err != nil {
		return nil, err
	}
	if _, ok := root.(*Leaf); ok {
		return nil, malformedf("scenario root must be a serial or parallel group")
	}

	return &Scenario{
		Version:  doc.Version,
		Settings: doc.Settings,
		Nodes:    doc.Nodes,
		Root:     root,
	}, nil
}

type parser struct {
	nodeCount int
}

// parseTask parses a single task entry: a mapping with exactly one key which
// is either serial, parallel, or a leaf action kind.
func (p *parser) parseTask(n *yaml.Node) (Node, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return nil, malformedf("task must be a mapping with a single serial, parallel or action key")
	}
	key := n.Content[0].Value
	body := n.Content[1]

	switch key {
	case keySerial:
		return p.parseGroup(body, false)
	case keyParallel:
		return p.parseGroup(body, true)
	default:
		return p.parseLeaf(Kind(key), body)
	}
}

type groupBody struct {
	Name   string      `yaml:"name"`
	Repeat int         `yaml:"repeat"`
	Tasks  []yaml.Node `yaml:"tasks"`
}

func (p *parser) parseGroup(body *yaml.Node, parallel bool) (Node, error) {
	var g groupBody
	if err := body.Decode(&g); err != nil {
		return nil, malformedf("invalid group body: %v", err)
	}
	if len(g.Tasks) == 0 {
		return nil, malformedf("group %q has no tasks", g.Name)
	}
	if g.Repeat < 0 {
		return nil, malformedf("group %q: repeat must be a positive integer", g.Name)
	}
	if g.Repeat != 0 && parallel {
		// Repeat composes with sequential execution only.
		return nil, malformedf("group %q: repeat is not supported on parallel groups", g.Name)
	}
	if g.Repeat == 0 {
		g.Repeat = 1
	}

	children := make([]Node, 0, len(g.Tasks))
	for i := range g.Tasks {
		child, err := p.parseTask(&g.Tasks[i])
		if err != nil {
			return nil, fmt.Errorf("group %q task %d: %w", g.Name, i, err)
		}
		children = append(children, child)
	}

	if parallel {
		return &Parallel{TaskName: g.Name, Children: children}, nil
	}

	return &Serial{TaskName: g.Name, Repeat: g.Repeat, Children: children}, nil
}

func (p *parser) parseLeaf(kind Kind, body *yaml.Node) (Node, error) {
	pm, err := decodeParamMap(body)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", kind, err)
	}

	leaf := &Leaf{TaskName: string(kind), Kind: kind, Repeat: 1}
	if rep, ok := pm["repeat"]; ok {
		if err := rep.Decode(&leaf.Repeat); err != nil || leaf.Repeat < 1 {
			return nil, malformedf("action %s: repeat must be a positive integer", kind)
		}
		delete(pm, "repeat")
	}

	switch kind {
	case KindOpenChannel:
		leaf.Params, err = p.openChannelParams(pm)
	case KindTransfer:
		leaf.Params, err = p.transferParams(pm)
	case KindCloseChannel:
		leaf.Params, err = p.closeChannelParams(pm)
	case KindStopNode:
		leaf.Params, err = p.nodeIndexParams(pm, kind)
	case KindStartNode:
		leaf.Params, err = p.nodeIndexParams(pm, kind)
	case KindWaitBlocks:
		leaf.Params, err = p.waitBlocksParams(pm)
	case KindStoreChannelInfo:
		leaf.Params, err = p.storeChannelInfoParams(pm)
	case KindAssert:
		leaf.Params, err = p.assertParams(pm)
	case KindAssertEvents:
		leaf.Params, err = p.assertEventsParams(pm)
	default:
		return nil, malformedf("unknown action kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", kind, err)
	}

	return leaf, nil
}

// paramMap holds the raw leaf parameters so required/unknown keys can be
// checked before typed decoding.
type paramMap map[string]*yaml.Node

func decodeParamMap(body *yaml.Node) (paramMap, error) {
	if body.Kind != yaml.MappingNode {
		return nil, malformedf("parameters must be a mapping")
	}
	pm := make(paramMap, len(body.Content)/2)
	for i := 0; i+1 < len(body.Content); i += 2 {
		pm[body.Content[i].Value] = body.Content[i+1]
	}

	return pm, nil
}

// take consumes a parameter, failing when required and absent. Any keys left
// over after parsing are unknown and rejected.
func (pm paramMap) take(key string, required bool, out any) (bool, error) {
	n, ok := pm[key]
	if !ok {
		if required {
			return false, malformedf("missing required parameter %q", key)
		}

		return false, nil
	}
	delete(pm, key)
	if err := n.Decode(out); err != nil {
		return false, malformedf("parameter %q: %v", key, err)
	}

	return true, nil
}

func (pm paramMap) finish() error {
	for key := range pm {
		return malformedf("unknown parameter %q", key)
	}

	return nil
}

func (p *parser) nodeIndex(pm paramMap, key string) (int, error) {
	var idx int
	if _, err := pm.take(key, true, &idx); err != nil {
		return 0, err
	}
	if idx < 0 || idx >= p.nodeCount {
		return 0, malformedf("node index %q = %d out of range [0, %d)", key, idx, p.nodeCount)
	}

	return idx, nil
}

func (p *parser) fromTo(pm paramMap) (from, to int, err error) {
	if from, err = p.nodeIndex(pm, "from"); err != nil {
		return 0, 0, err
	}
	if to, err = p.nodeIndex(pm, "to"); err != nil {
		return 0, 0, err
	}
	if from == to {
		return 0, 0, malformedf("from and to must name different nodes, both are %d", from)
	}

	return from, to, nil
}

func (p *parser) openChannelParams(pm paramMap) (Params, error) {
	var params OpenChannelParams
	var err error
	if params.From, params.To, err = p.fromTo(pm); err != nil {
		return nil, err
	}
	if _, err := pm.take("total_deposit", true, &params.TotalDeposit); err != nil {
		return nil, err
	}
	if _, err := pm.take("settle_timeout", false, &params.SettleTimeout); err != nil {
		return nil, err
	}

	return params, pm.finish()
}

func (p *parser) transferParams(pm paramMap) (Params, error) {
	var params TransferParams
	var err error
	if params.From, params.To, err = p.fromTo(pm); err != nil {
		return nil, err
	}
	if _, err := pm.take("amount", true, &params.Amount); err != nil {
		return nil, err
	}
	if _, err := pm.take("expected_http_status", false, &params.ExpectedHTTPStatus); err != nil {
		return nil, err
	}

	return params, pm.finish()
}

func (p *parser) closeChannelParams(pm paramMap) (Params, error) {
	var params CloseChannelParams
	var err error
	if params.From, params.To, err = p.fromTo(pm); err != nil {
		return nil, err
	}

	return params, pm.finish()
}

func (p *parser) nodeIndexParams(pm paramMap, kind Kind) (Params, error) {
	idx, err := p.nodeIndex(pm, "index")
	if err != nil {
		return nil, err
	}
	if err := pm.finish(); err != nil {
		return nil, err
	}
	if kind == KindStopNode {
		return StopNodeParams{Index: idx}, nil
	}

	return StartNodeParams{Index: idx}, nil
}

func (p *parser) waitBlocksParams(pm paramMap) (Params, error) {
	var params WaitBlocksParams
	if _, err := pm.take("count", true, &params.Count); err != nil {
		return nil, err
	}
	if params.Count == 0 {
		return nil, malformedf("count must be at least 1")
	}

	return params, pm.finish()
}

func (p *parser) storeChannelInfoParams(pm paramMap) (Params, error) {
	var params StoreChannelInfoParams
	var err error
	if params.From, params.To, err = p.fromTo(pm); err != nil {
		return nil, err
	}
	if _, err := pm.take("key", true, &params.Key); err != nil {
		return nil, err
	}
	if params.Key == "" {
		return nil, malformedf("key must not be empty")
	}

	return params, pm.finish()
}

func (p *parser) assertParams(pm paramMap) (Params, error) {
	var params AssertParams
	var err error
	if params.From, params.To, err = p.fromTo(pm); err != nil {
		return nil, err
	}

	var deposit uint64
	if ok, err := pm.take("total_deposit", false, &deposit); err != nil {
		return nil, err
	} else if ok {
		params.TotalDeposit = &deposit
	}
	var balance uint64
	if ok, err := pm.take("balance", false, &balance); err != nil {
		return nil, err
	} else if ok {
		params.Balance = &balance
	}
	var state string
	if ok, err := pm.take("state", false, &state); err != nil {
		return nil, err
	} else if ok {
		params.State = &state
	}

	if params.TotalDeposit == nil && params.Balance == nil && params.State == nil {
		return nil, malformedf("assert requires at least one of total_deposit, balance or state")
	}

	return params, pm.finish()
}

func (p *parser) assertEventsParams(pm paramMap) (Params, error) {
	var params AssertEventsParams
	if _, err := pm.take("contract_name", true, &params.Contract); err != nil {
		return nil, err
	}
	if _, err := pm.take("event_name", true, &params.Event); err != nil {
		return nil, err
	}
	if _, err := pm.take("num_events", true, &params.NumEvents); err != nil {
		return nil, err
	}
	if params.NumEvents < 0 {
		return nil, malformedf("num_events must not be negative")
	}

	return params, pm.finish()
}
