package main

import (
	"fmt"

	"github.com/synapsedb/synapsedb"
)

func openStore(path string) (*synapsedb.Store, error) {
	s, err := synapsedb.Open(path, synapsedb.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return s, nil
}
