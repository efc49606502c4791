package pipeline

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config 描述引擎的两条 Pipeline（YAML）。
//
// 示例：
//
//	personalized:
//	  - type: recall.latent_factor
//	  - type: filter.expr
//	    config: {expr: "item.score >= 2.5"}
//	  - type: rank.score
//	  - type: rerank.topn
//	cold_start:
//	  - type: recall.cold_start
//	    config: {tag_count: 3}
//	  - type: rerank.topn
type Config struct {
	Personalized []NodeConfig `yaml:"personalized" json:"personalized"`
	ColdStart    []NodeConfig `yaml:"cold_start" json:"cold_start"`
}

// NodeConfig 是单个 Node 的配置。
type NodeConfig struct {
	Type   string                 `yaml:"type" json:"type"`     // recall.cold_start / filter.expr / rank.score 等
	Config map[string]interface{} `yaml:"config" json:"config"` // Node 特定配置
}

// DefaultConfig 返回内置的 Pipeline 布局。
func DefaultConfig() *Config {
	return &Config{
		Personalized: []NodeConfig{
			{Type: "recall.latent_factor"},
			{Type: "filter.rated"},
			{Type: "rank.score"},
			{Type: "rerank.topn"},
		},
		ColdStart: []NodeConfig{
			{Type: "recall.cold_start"},
			{Type: "rerank.topn"},
		},
	}
}

// LoadFromYAML 从 YAML 文件加载 Pipeline 配置；缺省的一侧使用 DefaultConfig。
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	def := DefaultConfig()
	if len(cfg.Personalized) == 0 {
		cfg.Personalized = def.Personalized
	}
	if len(cfg.ColdStart) == 0 {
		cfg.ColdStart = def.ColdStart
	}
	return &cfg, nil
}

// Build 根据节点配置列表构建 Pipeline。
func Build(name string, nodes []NodeConfig, factory *NodeFactory) (*Pipeline, error) {
	out := make([]Node, 0, len(nodes))
	for _, nc := range nodes {
		node, err := factory.Build(nc.Type, nc.Config)
		if err != nil {
			return nil, fmt.Errorf("build node %s: %w", nc.Type, err)
		}
		out = append(out, node)
	}
	return &Pipeline{Name: name, Nodes: out}, nil
}

// NodeBuilder 根据 config 构建 Node。
type NodeBuilder func(config map[string]interface{}) (Node, error)

// NodeFactory 用于根据配置构建 Node 实例。
type NodeFactory struct {
	builders map[string]NodeBuilder
}

func NewNodeFactory() *NodeFactory {
	return &NodeFactory{
		builders: make(map[string]NodeBuilder),
	}
}

// Register 注册 Node 构建器。
func (f *NodeFactory) Register(nodeType string, builder NodeBuilder) {
	f.builders[nodeType] = builder
}

// Has 判断类型是否已注册。
func (f *NodeFactory) Has(nodeType string) bool {
	_, ok := f.builders[nodeType]
	return ok
}

// Types 返回已注册的 Node 类型（排序），用于错误提示。
func (f *NodeFactory) Types() []string {
	types := make([]string, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build 根据类型和配置构建 Node。
func (f *NodeFactory) Build(nodeType string, config map[string]interface{}) (Node, error) {
	builder, ok := f.builders[nodeType]
	if !ok {
		return nil, fmt.Errorf("unknown node type: %s", nodeType)
	}
	return builder(config)
}
