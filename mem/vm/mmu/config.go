package mmu

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/softmmu/mem/vm/tlb"
)

// The environment variables read by ConfigFromEnv.
const (
	EnvStrictAlign    = "SOFTMMU_STRICT_ALIGN"
	EnvTrackAD        = "SOFTMMU_TRACK_AD"
	EnvPolicy         = "SOFTMMU_POLICY"
	EnvPrefetchWindow = "SOFTMMU_PREFETCH_WINDOW"

	// envLegacyStrictAlign is honoured when EnvStrictAlign is not set.
	envLegacyStrictAlign = "VM_STRICT_ALIGN"
)

// ConfigFromEnv applies the SOFTMMU_* environment variables to b.
//
// SOFTMMU_POLICY holds either one policy for every level or three comma
// separated policies for L1, L2 and L3.
func ConfigFromEnv(b Builder) (Builder, error) {
	return configFromLookup(b, os.LookupEnv)
}

func configFromLookup(
	b Builder,
	lookup func(string) (string, bool),
) (Builder, error) {
	strictName := EnvStrictAlign
	if _, ok := lookup(strictName); !ok {
		strictName = envLegacyStrictAlign
	}

	if v, ok := lookup(strictName); ok {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return b, fmt.Errorf("%s: %w", strictName, err)
		}

		b = b.WithStrictAlign(strict)
	}

	if v, ok := lookup(EnvTrackAD); ok {
		track, err := strconv.ParseBool(v)
		if err != nil {
			return b, fmt.Errorf("%s: %w", EnvTrackAD, err)
		}

		b = b.WithTrackADBits(track)
	}

	if v, ok := lookup(EnvPolicy); ok {
		var err error

		b, err = applyPolicies(b, v)
		if err != nil {
			return b, fmt.Errorf("%s: %w", EnvPolicy, err)
		}
	}

	if v, ok := lookup(EnvPrefetchWindow); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return b, fmt.Errorf("%s: invalid window %q", EnvPrefetchWindow, v)
		}

		b = b.WithPrefetchWindow(n)
	}

	return b, nil
}

func applyPolicies(b Builder, v string) (Builder, error) {
	names := strings.Split(v, ",")
	if len(names) != 1 && len(names) != tlb.NumLevels {
		return b, fmt.Errorf("want 1 or %d policies, got %d",
			tlb.NumLevels, len(names))
	}

	for level := range tlb.NumLevels {
		name := names[0]
		if len(names) > 1 {
			name = names[level]
		}

		p, err := tlb.ParseReplacementPolicy(name)
		if err != nil {
			return b, err
		}

		b = b.WithPolicy(level, p)
	}

	return b, nil
}
