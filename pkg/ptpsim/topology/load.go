// Package topology loads and validates the static tree configuration
// described in spec.md §3 and §6: node names, roles, parent/child
// relations, listen ports, and the simulation's timing parameters.
//
// The topology is read once at process startup and handed out as an
// immutable *types.Topology; nothing in this package is touched again
// once Load returns.
package topology

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jabolina/go-ptpsim/pkg/ptpsim/types"
)

// Defaults per spec §4.2/§4.4.1/§4.3, used when the document omits a
// timing field.
const (
	DefaultSyncPeriod         = 10 * time.Second
	DefaultStartupDelay       = 1 * time.Second
	DefaultFollowUpSeparation = 250 * time.Millisecond
	DefaultResidenceMin       = 500 * time.Millisecond
	DefaultResidenceMax       = 1 * time.Second
	DefaultDriftMin           = -1 * time.Second
	DefaultDriftMax           = 1 * time.Second
)

type document struct {
	SyncPeriod         string         `yaml:"sync_period"`
	StartupDelay       string         `yaml:"startup_delay"`
	FollowUpSeparation string         `yaml:"follow_up_separation"`
	ResidenceMin       string         `yaml:"residence_min"`
	ResidenceMax       string         `yaml:"residence_max"`
	DriftMin           string         `yaml:"drift_min"`
	DriftMax           string         `yaml:"drift_max"`
	Nodes              []nodeDocument `yaml:"nodes" validate:"required,min=1,dive"`
}

type nodeDocument struct {
	Name       string   `yaml:"name" validate:"required"`
	Role       string   `yaml:"role" validate:"required,oneof=grandmaster gm switch slave"`
	Parent     string   `yaml:"parent"`
	Children   []string `yaml:"children"`
	ListenPort int      `yaml:"listen_port"`
}

// Load reads, decodes, and validates the topology file at path, then
// builds the in-memory tree described in spec.md §3.
func Load(path string) (*types.Topology, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a topology document from raw YAML bytes.
func Parse(raw []byte) (*types.Topology, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing topology yaml: %w", err)
	}

	if err := validator.New().Struct(&doc); err != nil {
		return nil, fmt.Errorf("validating topology: %w", err)
	}

	topo := &types.Topology{
		Nodes: make(map[string]*types.NodeConfig, len(doc.Nodes)),
	}

	var err error
	if topo.SyncPeriod, err = durationOrDefault(doc.SyncPeriod, DefaultSyncPeriod); err != nil {
		return nil, fmt.Errorf("sync_period: %w", err)
	}
	if topo.StartupDelay, err = durationOrDefault(doc.StartupDelay, DefaultStartupDelay); err != nil {
		return nil, fmt.Errorf("startup_delay: %w", err)
	}
	if topo.FollowUpSeparation, err = durationOrDefault(doc.FollowUpSeparation, DefaultFollowUpSeparation); err != nil {
		return nil, fmt.Errorf("follow_up_separation: %w", err)
	}
	if topo.ResidenceMin, err = durationOrDefault(doc.ResidenceMin, DefaultResidenceMin); err != nil {
		return nil, fmt.Errorf("residence_min: %w", err)
	}
	if topo.ResidenceMax, err = durationOrDefault(doc.ResidenceMax, DefaultResidenceMax); err != nil {
		return nil, fmt.Errorf("residence_max: %w", err)
	}
	if topo.DriftMin, err = durationOrDefault(doc.DriftMin, DefaultDriftMin); err != nil {
		return nil, fmt.Errorf("drift_min: %w", err)
	}
	if topo.DriftMax, err = durationOrDefault(doc.DriftMax, DefaultDriftMax); err != nil {
		return nil, fmt.Errorf("drift_max: %w", err)
	}

	for _, n := range doc.Nodes {
		role, err := types.ParseRole(n.Role)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", n.Name, err)
		}
		if _, exists := topo.Nodes[n.Name]; exists {
			return nil, fmt.Errorf("duplicate node name %q", n.Name)
		}
		topo.Nodes[n.Name] = &types.NodeConfig{
			Name:       n.Name,
			Role:       role,
			Parent:     n.Parent,
			Children:   append([]string(nil), n.Children...),
			ListenPort: n.ListenPort,
		}
		if role == types.RoleGrandmaster {
			if topo.Root != "" {
				return nil, fmt.Errorf("topology has more than one grandmaster: %s and %s", topo.Root, n.Name)
			}
			topo.Root = n.Name
		}
	}

	if topo.Root == "" {
		return nil, fmt.Errorf("topology has no grandmaster")
	}

	if err := validateShape(topo); err != nil {
		return nil, err
	}

	computeSubtreeSlaveCounts(topo)

	return topo, nil
}

func durationOrDefault(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}

// validateShape checks the structural invariants of spec.md §3: every
// non-root node names a parent that exists and lists it as a child, every
// non-leaf node has a listen port, and slaves have no children.
func validateShape(topo *types.Topology) error {
	for name, n := range topo.Nodes {
		switch n.Role {
		case types.RoleGrandmaster:
			if n.Parent != "" {
				return fmt.Errorf("grandmaster %s must not have a parent", name)
			}
			if n.ListenPort == 0 {
				return fmt.Errorf("grandmaster %s must declare a listen_port", name)
			}
		case types.RoleSwitch:
			if n.Parent == "" {
				return fmt.Errorf("switch %s must have a parent", name)
			}
			if n.ListenPort == 0 {
				return fmt.Errorf("switch %s must declare a listen_port", name)
			}
			if len(n.Children) == 0 {
				return fmt.Errorf("switch %s must have at least one child", name)
			}
		case types.RoleSlave:
			if n.Parent == "" {
				return fmt.Errorf("slave %s must have a parent", name)
			}
			if len(n.Children) != 0 {
				return fmt.Errorf("slave %s must not have children", name)
			}
		}

		if n.Parent != "" {
			parent, ok := topo.Nodes[n.Parent]
			if !ok {
				return fmt.Errorf("node %s names unknown parent %s", name, n.Parent)
			}
			if !contains(parent.Children, name) {
				return fmt.Errorf("parent %s does not list %s as a child", n.Parent, name)
			}
		}
		for _, child := range n.Children {
			if _, ok := topo.Nodes[child]; !ok {
				return fmt.Errorf("node %s names unknown child %s", name, child)
			}
		}
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// computeSubtreeSlaveCounts fills in NumSlaves for every node by counting
// slave leaves reachable through its children.
func computeSubtreeSlaveCounts(topo *types.Topology) {
	var count func(name string) int
	memo := make(map[string]int)
	count = func(name string) int {
		if v, ok := memo[name]; ok {
			return v
		}
		n := topo.Nodes[name]
		if n.Role == types.RoleSlave {
			memo[name] = 1
			return 1
		}
		total := 0
		for _, child := range n.Children {
			total += count(child)
		}
		memo[name] = total
		return total
	}
	for name, n := range topo.Nodes {
		n.NumSlaves = count(name)
	}
}
