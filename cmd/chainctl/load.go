package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/intellirouter/chain-engine/pkg/chain"
)

// loadChain reads a chain document from path, parsing it as YAML or JSON
// based on the file extension (.yaml/.yml vs everything else).
func loadChain(path string) (*chain.Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return chain.ParseYAML(data)
	default:
		return chain.ParseJSON(data)
	}
}
