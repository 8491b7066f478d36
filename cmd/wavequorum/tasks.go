package main

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/Rogers-F/wavequorum/internal/domain"
)

const maxTaskFileSize = 4 << 20

// loadTasks reads a YAML (or JSON) task file of the form
//
//	tasks:
//	  - id: a
//	    description: ...
//	    depends_on: [b]
//	    consensus: {k_threshold: 3}
//
// A partial consensus block is layered over defaults.
func loadTasks(path string, defaults domain.ConsensusConfig) ([]domain.Task, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	if len(content) > maxTaskFileSize {
		return nil, fmt.Errorf("task file %s exceeds %d bytes", path, maxTaskFileSize)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse task file %s: %w", path, err)
	}
	if !k.Exists("tasks") {
		return nil, fmt.Errorf("task file %s has no tasks", path)
	}

	entries := k.Slices("tasks")
	tasks := make([]domain.Task, 0, len(entries))
	for i, entry := range entries {
		var t domain.Task
		if err := entry.Unmarshal("", &t); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		t.Consensus = nil
		if entry.Exists("consensus") {
			c := defaults
			if err := entry.Unmarshal("consensus", &c); err != nil {
				return nil, fmt.Errorf("task %s consensus: %w", t.ID, err)
			}
			t.Consensus = &c
		}
		tasks = append(tasks, t)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task file %s has no tasks", path)
	}
	return tasks, nil
}
