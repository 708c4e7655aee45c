// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadTrackerFile reads a list of tracker URLs. JSON arrays parse as YAML flow sequences,
// so trackers.json and trackers.yaml share one decoder.
func LoadTrackerFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var trackers []string
	if err := yaml.Unmarshal(data, &trackers); err != nil {
		return nil, fmt.Errorf("tracker file %s is not a list of strings: %w", path, err)
	}

	return cleanTrackers(trackers), nil
}

func cleanTrackers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		// env bindings deliver the list as one comma-separated string
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
