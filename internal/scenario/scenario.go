// Package scenario builds scheduler scenarios from HCL definitions.
//
// A definition file declares data nodes, tasks wired to them by id, and
// named sequences over the tasks:
//
//	id = "sales"
//
//	data_node "orders" {
//	  type    = "in_memory"
//	  default = 2
//	}
//
//	data_node "forecast" {
//	  validity = "1h"
//	}
//
//	task "predict" {
//	  function  = "predict"
//	  inputs    = ["orders"]
//	  outputs   = ["forecast"]
//	  skippable = true
//	}
//
//	sequence "nightly" {
//	  tasks = ["predict"]
//	}
package scenario

import (
	"fmt"
	"math/big"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/sirupsen/logrus"
	"github.com/zclconf/go-cty/cty"

	"github.com/aristath/taskflow/internal/datanode"
	"github.com/aristath/taskflow/internal/logging"
	"github.com/aristath/taskflow/internal/scheduler"
)

// hclFile is the top-level structure of a definition file.
type hclFile struct {
	ID        string         `hcl:"id,optional"`
	DataNodes []*hclDataNode `hcl:"data_node,block"`
	Tasks     []*hclTask     `hcl:"task,block"`
	Sequences []*hclSequence `hcl:"sequence,block"`
}

type hclDataNode struct {
	ID       string    `hcl:"id,label"`
	Type     string    `hcl:"type,optional"`
	Validity string    `hcl:"validity,optional"`
	Default  cty.Value `hcl:"default,optional"`
}

type hclTask struct {
	ID        string   `hcl:"id,label"`
	Function  string   `hcl:"function,optional"`
	Inputs    []string `hcl:"inputs,optional"`
	Outputs   []string `hcl:"outputs,optional"`
	Skippable bool     `hcl:"skippable,optional"`
}

type hclSequence struct {
	Name  string   `hcl:"name,label"`
	Tasks []string `hcl:"tasks"`
}

// Loader turns definitions into scenarios. Task bodies are resolved by
// function name in Functions; data nodes are built by type tag from
// DataNodes.
type Loader struct {
	Functions *scheduler.Registry
	DataNodes *datanode.Registry

	// AllowUnresolved keeps tasks whose function is not registered, with a
	// nil body. Out-of-process backends run them by function name.
	AllowUnresolved bool
}

// Load parses and builds the definition file at path. Without an id
// attribute the scenario is named after the file.
func (l *Loader) Load(path string) (*scheduler.Scenario, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return l.build(file, path, stem)
}

// Parse builds a scenario from in-memory source. filename is used in
// diagnostics and as the default id.
func (l *Loader) Parse(src []byte, filename string) (*scheduler.Scenario, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL %s: %w", filename, diags)
	}
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return l.build(file, filename, stem)
}

func (l *Loader) build(file *hcl.File, filename, defaultID string) (*scheduler.Scenario, error) {
	var parsed hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL %s: %w", filename, diags)
	}

	id := parsed.ID
	if id == "" {
		id = defaultID
	}

	nodes, err := l.buildDataNodes(parsed.DataNodes)
	if err != nil {
		return nil, fmt.Errorf("scenario %q: %w", id, err)
	}

	tasks := make([]*scheduler.Task, 0, len(parsed.Tasks))
	bound := make(map[string]bool)
	for _, ht := range parsed.Tasks {
		task, err := l.buildTask(ht, nodes)
		if err != nil {
			return nil, fmt.Errorf("scenario %q: %w", id, err)
		}
		for _, ref := range append(ht.Inputs, ht.Outputs...) {
			bound[ref] = true
		}
		tasks = append(tasks, task)
	}

	sc, err := scheduler.NewScenario(id, tasks...)
	if err != nil {
		return nil, err
	}
	for _, hn := range parsed.DataNodes {
		if !bound[hn.ID] {
			sc.AddDataNode(nodes[hn.ID])
		}
	}
	for _, hs := range parsed.Sequences {
		if _, err := sc.AddSequence(hs.Name, hs.Tasks...); err != nil {
			return nil, err
		}
	}

	logging.Log.WithFields(logrus.Fields{
		"scenario":   id,
		"file":       filename,
		"tasks":      len(tasks),
		"data_nodes": len(nodes),
		"sequences":  len(parsed.Sequences),
	}).Debug("scenario loaded")
	return sc, nil
}

func (l *Loader) buildDataNodes(specs []*hclDataNode) (map[string]datanode.DataNode, error) {
	registry := l.DataNodes
	if registry == nil {
		registry = datanode.DefaultRegistry()
	}

	nodes := make(map[string]datanode.DataNode, len(specs))
	for _, hn := range specs {
		if _, exists := nodes[hn.ID]; exists {
			return nil, fmt.Errorf("data node %q declared twice", hn.ID)
		}
		props := datanode.Properties{}
		if hn.Validity != "" {
			props["validity"] = hn.Validity
		}
		def, err := ctyToGo(hn.Default)
		if err != nil {
			return nil, fmt.Errorf("data node %q default: %w", hn.ID, err)
		}
		if def != nil {
			props["default"] = def
		}
		tag := hn.Type
		if tag == "" {
			tag = datanode.TypeInMemory
		}
		dn, err := registry.New(tag, hn.ID, props)
		if err != nil {
			return nil, err
		}
		nodes[hn.ID] = dn
	}
	return nodes, nil
}

func (l *Loader) buildTask(ht *hclTask, nodes map[string]datanode.DataNode) (*scheduler.Task, error) {
	resolve := func(refs []string) ([]datanode.DataNode, error) {
		out := make([]datanode.DataNode, 0, len(refs))
		for _, ref := range refs {
			dn, ok := nodes[ref]
			if !ok {
				return nil, fmt.Errorf("task %q references unknown data node %q", ht.ID, ref)
			}
			out = append(out, dn)
		}
		return out, nil
	}
	inputs, err := resolve(ht.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := resolve(ht.Outputs)
	if err != nil {
		return nil, err
	}

	name := ht.Function
	if name == "" {
		name = ht.ID
	}
	var fn scheduler.TaskFunc
	if l.Functions != nil {
		fn, _ = l.Functions.Lookup(name)
	}
	if fn == nil && !l.AllowUnresolved {
		return nil, fmt.Errorf("task %q: function %q is not registered", ht.ID, name)
	}

	opts := []scheduler.TaskOption{scheduler.WithFunctionName(name)}
	if ht.Skippable {
		opts = append(opts, scheduler.Skippable())
	}
	return scheduler.NewTask(ht.ID, fn, inputs, outputs, opts...), nil
}

// ctyToGo converts an attribute value to plain Go values. Whole numbers
// become int, other numbers float64.
func ctyToGo(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return int(i), nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			converted, err := ctyToGo(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = converted
		}
		return out, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := []any{}
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			converted, err := ctyToGo(v)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}
