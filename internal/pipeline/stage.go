package pipeline

import (
	"fmt"
	"strings"
)

// Stage names one step of the processing chain.
type Stage string

const (
	StageDownload    Stage = "download"
	StageRawIndex    Stage = "raw_index"
	StageCloudDetect Stage = "cloud_detect"
	StagePrepare     Stage = "prepare"
	StageFuse        Stage = "fuse"
	StageFusedIndex  Stage = "fused_index"
)

// chain is the dependency order. Each stage consumes the durable
// output of the one before it and nothing else.
var chain = []Stage{
	StageDownload,
	StageRawIndex,
	StageCloudDetect,
	StagePrepare,
	StageFuse,
	StageFusedIndex,
}

// Stages returns the full chain in dependency order.
func Stages() []Stage {
	out := make([]Stage, len(chain))
	copy(out, chain)
	return out
}

// ParseStages turns a comma separated list of stage names into the
// subset to run, reordered to chain order. Empty input selects the
// full chain.
func ParseStages(s string) ([]Stage, error) {
	if strings.TrimSpace(s) == "" {
		return Stages(), nil
	}
	want := make(map[Stage]bool)
	for _, part := range strings.Split(s, ",") {
		name := Stage(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if !name.known() {
			return nil, fmt.Errorf("unknown stage %q", string(name))
		}
		want[name] = true
	}
	var out []Stage
	for _, st := range chain {
		if want[st] {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s Stage) known() bool {
	for _, st := range chain {
		if st == s {
			return true
		}
	}
	return false
}

// prev returns the stage's direct predecessor in the chain.
func prev(s Stage) (Stage, bool) {
	for i, st := range chain {
		if st == s && i > 0 {
			return chain[i-1], true
		}
	}
	return "", false
}
