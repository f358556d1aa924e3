package deployment

import (
	"fmt"
)

// NetworkType distinguishes networks that reset their state from networks that accumulate it.
type NetworkType string

const (
	// NetworkTypeEphemeral is a local network whose state is discarded between sessions.
	NetworkTypeEphemeral NetworkType = "ephemeral"
	// NetworkTypePersistent is a long-lived network, e.g. a public testnet.
	NetworkTypePersistent NetworkType = "persistent"
)

// Validate returns an error if the network type is unknown.
func (t NetworkType) Validate() error {
	switch t {
	case NetworkTypeEphemeral, NetworkTypePersistent:
		return nil
	default:
		return fmt.Errorf("unknown network type %q", t)
	}
}

// OverwritePolicy governs whether an existing deployment is reused or replaced.
type OverwritePolicy string

const (
	// OverwriteAlways redeploys a unit even when a current record exists.
	OverwriteAlways OverwritePolicy = "always"
	// OverwriteIfChanged reuses a current record unless the unit's fingerprint changed.
	OverwriteIfChanged OverwritePolicy = "if-changed"
)

// Validate returns an error if the policy is unknown.
func (p OverwritePolicy) Validate() error {
	switch p {
	case OverwriteAlways, OverwriteIfChanged:
		return nil
	default:
		return fmt.Errorf("unknown overwrite policy %q", p)
	}
}

// DefaultOverwritePolicy returns the policy used by a network type when none is configured.
func DefaultOverwritePolicy(t NetworkType) OverwritePolicy {
	if t == NetworkTypeEphemeral {
		return OverwriteAlways
	}

	return OverwriteIfChanged
}

// ResolveOverwrite returns the effective overwrite flag. An explicit flag always wins,
// otherwise the policy decides.
func ResolveOverwrite(explicit *bool, policy OverwritePolicy) bool {
	if explicit != nil {
		return *explicit
	}

	return policy == OverwriteAlways
}

// UnitState is the lifecycle state of a unit as observed during a run.
type UnitState string

const (
	UnitUndeployed  UnitState = "undeployed"
	UnitDeployed    UnitState = "deployed"
	UnitInitialized UnitState = "initialized"
	UnitLinked      UnitState = "linked"
	UnitRetired     UnitState = "retired"
)
